// Package record_repo loads barcode-addressable records for the scan cache.
package record_repo

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/shopspring/decimal"

	"stockscan/internal/core/id"
	"stockscan/internal/core/types"
	"stockscan/internal/domain/records"
	"stockscan/internal/infrastructure/storage/postgres"
)

const (
	productTable     = "cat_products"
	uomTable         = "cat_uoms"
	packagingTable   = "cat_product_packagings"
	lotTable         = "cat_lots"
	packageTable     = "cat_packages"
	packageTypeTable = "cat_package_types"
	locationTable    = "cat_locations"
	ownerTable       = "cat_owners"
)

// RecordRepo implements the cache fetcher over the catalog tables. One
// FetchByKeys call resolves a mixed batch of barcodes and record ids in one
// query per table.
type RecordRepo struct {
	txManager *postgres.TxManager
}

// NewRecordRepo creates a record repository.
func NewRecordRepo(txManager *postgres.TxManager) *RecordRepo {
	return &RecordRepo{txManager: txManager}
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// splitKeys separates stringified uuids from plain barcodes.
func splitKeys(keys []string) (ids []id.ID, barcodes []string) {
	for _, k := range keys {
		if parsed, err := id.Parse(k); err == nil {
			ids = append(ids, parsed)
			continue
		}
		barcodes = append(barcodes, k)
	}
	return ids, barcodes
}

// keyPredicate matches rows by barcode or id, whichever keys are present.
func keyPredicate(ids []id.ID, barcodes []string) squirrel.Sqlizer {
	or := squirrel.Or{}
	if len(barcodes) > 0 {
		or = append(or, squirrel.Eq{"barcode": barcodes})
	}
	if len(ids) > 0 {
		or = append(or, squirrel.Eq{"id": ids})
	}
	return or
}

// FetchByKeys loads every record matching the given barcodes or ids across
// all catalog tables. Unknown keys are skipped silently.
func (r *RecordRepo) FetchByKeys(ctx context.Context, keys []string) ([]records.Record, error) {
	ids, barcodes := splitKeys(keys)
	if len(ids) == 0 && len(barcodes) == 0 {
		return nil, nil
	}
	pred := keyPredicate(ids, barcodes)

	var out []records.Record
	loaders := []func(context.Context, squirrel.Sqlizer) ([]records.Record, error){
		r.products,
		r.uoms,
		r.packagings,
		r.lots,
		r.packages,
		r.packageTypes,
		r.locations,
		r.owners,
	}
	for _, load := range loaders {
		recs, err := load(ctx, pred)
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

type productRow struct {
	ID        id.ID   `db:"id"`
	Name      string  `db:"name"`
	Barcode   string  `db:"barcode"`
	Tracking  string  `db:"tracking"`
	UoMID     id.ID   `db:"uom_id"`
	CompanyID *id.ID  `db:"company_id"`
}

func (r *RecordRepo) products(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[productRow](ctx, r.txManager, productTable, postgres.ExtractDBColumns[productRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Product{
			Base:      records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			Tracking:  records.Tracking(row.Tracking),
			UoMID:     row.UoMID,
			CompanyID: row.CompanyID,
		})
	}
	return out, nil
}

type uomRow struct {
	ID       id.ID           `db:"id"`
	Name     string          `db:"name"`
	Barcode  string          `db:"barcode"`
	Category string          `db:"category"`
	Factor   decimal.Decimal `db:"factor"`
	Rounding decimal.Decimal `db:"rounding"`
}

func (r *RecordRepo) uoms(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[uomRow](ctx, r.txManager, uomTable, postgres.ExtractDBColumns[uomRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.UoM{
			Base:     records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			Category: row.Category,
			Factor:   row.Factor,
			Rounding: row.Rounding,
		})
	}
	return out, nil
}

type packagingRow struct {
	ID        id.ID           `db:"id"`
	Name      string          `db:"name"`
	Barcode   string          `db:"barcode"`
	ProductID id.ID           `db:"product_id"`
	Qty       decimal.Decimal `db:"qty"`
}

func (r *RecordRepo) packagings(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[packagingRow](ctx, r.txManager, packagingTable, postgres.ExtractDBColumns[packagingRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Packaging{
			Base:      records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			ProductID: row.ProductID,
			Qty:       types.NewQuantityFromDecimal(row.Qty),
		})
	}
	return out, nil
}

type lotRow struct {
	ID        id.ID  `db:"id"`
	Name      string `db:"name"`
	Barcode   string `db:"barcode"`
	ProductID id.ID  `db:"product_id"`
}

func (r *RecordRepo) lots(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[lotRow](ctx, r.txManager, lotTable, postgres.ExtractDBColumns[lotRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Lot{
			Base:      records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			ProductID: row.ProductID,
		})
	}
	return out, nil
}

type packageRow struct {
	ID            id.ID  `db:"id"`
	Name          string `db:"name"`
	Barcode       string `db:"barcode"`
	PackageTypeID *id.ID `db:"package_type_id"`
	LocationID    *id.ID `db:"location_id"`
}

func (r *RecordRepo) packages(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[packageRow](ctx, r.txManager, packageTable, postgres.ExtractDBColumns[packageRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Package{
			Base:          records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			PackageTypeID: row.PackageTypeID,
			LocationID:    row.LocationID,
		})
	}
	return out, nil
}

type packageTypeRow struct {
	ID      id.ID  `db:"id"`
	Name    string `db:"name"`
	Barcode string `db:"barcode"`
}

func (r *RecordRepo) packageTypes(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[packageTypeRow](ctx, r.txManager, packageTypeTable, postgres.ExtractDBColumns[packageTypeRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.PackageType{
			Base: records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
		})
	}
	return out, nil
}

type locationRow struct {
	ID         id.ID  `db:"id"`
	Name       string `db:"name"`
	Barcode    string `db:"barcode"`
	ParentPath string `db:"parent_path"`
}

func (r *RecordRepo) locations(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[locationRow](ctx, r.txManager, locationTable, postgres.ExtractDBColumns[locationRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Location{
			Base:       records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
			ParentPath: row.ParentPath,
		})
	}
	return out, nil
}

type ownerRow struct {
	ID      id.ID  `db:"id"`
	Name    string `db:"name"`
	Barcode string `db:"barcode"`
}

func (r *RecordRepo) owners(ctx context.Context, pred squirrel.Sqlizer) ([]records.Record, error) {
	rows, err := query[ownerRow](ctx, r.txManager, ownerTable, postgres.ExtractDBColumns[ownerRow](), pred)
	if err != nil {
		return nil, err
	}
	out := make([]records.Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, &records.Owner{
			Base: records.Base{ID: row.ID, Name: row.Name, Barcode: row.Barcode},
		})
	}
	return out, nil
}

// query runs one table's select and scans the rows.
func query[T any](ctx context.Context, txm *postgres.TxManager, table string, columns []string, pred squirrel.Sqlizer) ([]T, error) {
	q := psql.Select(columns...).From(table).Where(pred)
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build %s query: %w", table, err)
	}
	var rows []T
	if err := pgxscan.Select(ctx, txm.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return rows, nil
}
