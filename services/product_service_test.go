package services

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shop-service/apperrors"
	"shop-service/models"
)

func newProductServiceMock(t *testing.T) (*ProductService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewProductService(db), mock
}

const getProductQuery = `SELECT id, name, description, price, stock, status, created_by, created_at, approved_at, approved_by FROM products WHERE id = ?`

func productRowColumns() []string {
	return []string{"id", "name", "description", "price", "stock", "status", "created_by", "created_at", "approved_at", "approved_by"}
}

func TestCreateProductStartsPending(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO products (name, description, price, stock, status, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)).
		WithArgs("Widget", nil, "10.00", 5, models.ProductPending, 42, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	product, err := svc.CreateProduct(context.Background(), 42, models.CreateProductRequest{
		Name:  "Widget",
		Price: decimal.RequireFromString("10.00"),
		Stock: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProductPending, product.Status)
	assert.Equal(t, 42, product.CreatedBy)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateProductRejectsNonPositivePrice(t *testing.T) {
	svc, _ := newProductServiceMock(t)

	_, err := svc.CreateProduct(context.Background(), 42, models.CreateProductRequest{
		Name:  "Widget",
		Price: decimal.Zero,
	})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindValidation, appErr.Kind)
	assert.Contains(t, appErr.Fields, "price")
}

func TestSetApprovalHappensOnce(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	// second approval matches zero rows because status is no longer pending
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE products SET status = ?, approved_at = ?, approved_by = ? WHERE id = ? AND status = ?`)).
		WithArgs(models.ProductApproved, sqlmock.AnyArg(), 9, 1, models.ProductPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(getProductQuery)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(productRowColumns()).
			AddRow(1, "Widget", nil, "10.00", 5, "approved", 42, sampleTime(), sampleTime(), 9))

	_, err := svc.SetApproval(context.Background(), 1, 9, true)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindInvalidState, appErr.Kind)
}

func TestSetApprovalMissingProduct(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE products SET status = ?, approved_at = ?, approved_by = ? WHERE id = ? AND status = ?`)).
		WithArgs(models.ProductRejected, sqlmock.AnyArg(), 9, 1, models.ProductPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(regexp.QuoteMeta(getProductQuery)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(productRowColumns()))

	_, err := svc.SetApproval(context.Background(), 1, 9, false)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestUpdateProductForbiddenForStranger(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(getProductQuery)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(productRowColumns()).
			AddRow(1, "Widget", nil, "10.00", 5, "pending", 42, sampleTime(), nil, nil))

	name := "Gadget"
	_, err := svc.UpdateProduct(context.Background(), 1,
		models.Identity{UserID: 99, Role: models.RoleUser},
		models.UpdateProductRequest{Name: &name})
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindForbidden, appErr.Kind)
}

func TestUpdateProductConditionalFields(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(getProductQuery)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(productRowColumns()).
			AddRow(1, "Widget", nil, "10.00", 5, "pending", 42, sampleTime(), nil, nil))
	// only the provided field appears in the update
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE products SET name = ? WHERE id = ?`)).
		WithArgs("Gadget", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta(getProductQuery)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows(productRowColumns()).
			AddRow(1, "Gadget", nil, "10.00", 5, "pending", 42, sampleTime(), nil, nil))

	name := "Gadget"
	product, err := svc.UpdateProduct(context.Background(), 1,
		models.Identity{UserID: 42, Role: models.RoleUser},
		models.UpdateProductRequest{Name: &name})
	require.NoError(t, err)
	assert.Equal(t, "Gadget", product.Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductConflictWhenReferenced(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	// the reference check runs under the same row lock as the delete, so
	// a racing order placement cannot slip an item in between
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM products WHERE id = ? FOR UPDATE`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM order_items WHERE product_id = ?`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))
	mock.ExpectRollback()

	err := svc.DeleteProduct(context.Background(), 1)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindConflict, appErr.Kind)
	assert.Equal(t, "product", appErr.Resource)
	// the delete statement never reached the database
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductUnreferenced(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM products WHERE id = ? FOR UPDATE`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM order_items WHERE product_id = ?`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM products WHERE id = ?`)).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := svc.DeleteProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteProductNotFound(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id FROM products WHERE id = ? FOR UPDATE`)).
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectRollback()

	err := svc.DeleteProduct(context.Background(), 1)
	require.Error(t, err)
	var appErr *apperrors.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, apperrors.KindNotFound, appErr.Kind)
}

func TestListProductsUnprivilegedSeesApprovedOnly(t *testing.T) {
	svc, mock := newProductServiceMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, name, description, price, stock, status, created_by, created_at, approved_at, approved_by FROM products WHERE status = ? ORDER BY id ASC`)).
		WithArgs(models.ProductApproved).
		WillReturnRows(sqlmock.NewRows(productRowColumns()).
			AddRow(1, "Widget", nil, "10.00", 5, "approved", 42, sampleTime(), sampleTime(), 9))

	products, err := svc.ListProducts(context.Background(),
		models.Identity{UserID: 42, Role: models.RoleUser}, "")
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, models.ProductApproved, products[0].Status)
}
