// Package auth_repo persists operator accounts.
package auth_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockscan/internal/core/apperror"
	"stockscan/internal/core/id"
	"stockscan/internal/domain/auth"
	"stockscan/internal/infrastructure/storage/postgres"
)

const operatorTable = "sys_operators"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// OperatorRepo implements auth.Repository.
type OperatorRepo struct {
	txManager *postgres.TxManager
}

// NewOperatorRepo creates an operator repository.
func NewOperatorRepo(txManager *postgres.TxManager) *OperatorRepo {
	return &OperatorRepo{txManager: txManager}
}

func (r *OperatorRepo) columns() []string {
	return postgres.ExtractDBColumns[auth.Operator]()
}

// FindByLogin retrieves an operator by login.
func (r *OperatorRepo) FindByLogin(ctx context.Context, login string) (*auth.Operator, error) {
	return r.findOne(ctx, squirrel.Eq{"login": login}, login)
}

// FindByID retrieves an operator by id.
func (r *OperatorRepo) FindByID(ctx context.Context, operatorID id.ID) (*auth.Operator, error) {
	return r.findOne(ctx, squirrel.Eq{"id": operatorID}, operatorID.String())
}

func (r *OperatorRepo) findOne(ctx context.Context, pred squirrel.Sqlizer, key string) (*auth.Operator, error) {
	q := psql.Select(r.columns()...).From(operatorTable).Where(pred).Limit(1)
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	var op auth.Operator
	if err := pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &op, sql, args...); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("operator", key)
		}
		return nil, fmt.Errorf("find operator: %w", err)
	}
	return &op, nil
}

// Create inserts an operator.
func (r *OperatorRepo) Create(ctx context.Context, op *auth.Operator) error {
	q := psql.Insert(operatorTable).SetMap(postgres.StructToMap(op))
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert operator: %w", err)
	}
	return nil
}

// Update writes an operator back.
func (r *OperatorRepo) Update(ctx context.Context, op *auth.Operator) error {
	values := postgres.StructToMap(op)
	delete(values, "id")
	q := psql.Update(operatorTable).SetMap(values).Where(squirrel.Eq{"id": op.ID})
	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}
	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("update operator: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound("operator", op.ID.String())
	}
	return nil
}
