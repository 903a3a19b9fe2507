package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"shop-service/apperrors"
	"shop-service/models"
)

type ProductService struct {
	db *sql.DB
}

func NewProductService(db *sql.DB) *ProductService {
	return &ProductService{db: db}
}

// CreateProduct inserts a new product in pending status; it becomes
// orderable only after approval.
func (s *ProductService) CreateProduct(ctx context.Context, creatorID int, req models.CreateProductRequest) (*models.Product, error) {
	if !req.Price.IsPositive() {
		return nil, apperrors.NewValidation(map[string][]string{"price": {"must be greater than zero"}})
	}
	if req.Stock < 0 {
		return nil, apperrors.NewValidation(map[string][]string{"stock": {"must not be negative"}})
	}

	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, description, price, stock, status, created_by, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		req.Name, req.Description, req.Price, req.Stock, models.ProductPending, creatorID, now)
	if err != nil {
		return nil, apperrors.NewInternal("insert product", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperrors.NewInternal("read product id", err)
	}

	return &models.Product{
		ID:          int(id),
		Name:        req.Name,
		Description: req.Description,
		Price:       req.Price,
		Stock:       req.Stock,
		Status:      models.ProductPending,
		CreatedBy:   creatorID,
		CreatedAt:   now,
	}, nil
}

func (s *ProductService) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	p := &models.Product{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, price, stock, status, created_by, created_at, approved_at, approved_by FROM products WHERE id = ?`,
		id).
		Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.ApprovedAt, &p.ApprovedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("product", strconv.Itoa(id))
	}
	if err != nil {
		return nil, apperrors.NewInternal("load product", err)
	}
	return p, nil
}

// ListProducts returns the catalog. Unprivileged callers only ever see
// approved products; privileged callers see everything, optionally filtered
// by status.
func (s *ProductService) ListProducts(ctx context.Context, requester models.Identity, statusFilter string) ([]models.Product, error) {
	query := `SELECT id, name, description, price, stock, status, created_by, created_at, approved_at, approved_by FROM products`
	var args []any

	if !requester.Privileged() {
		query += ` WHERE status = ?`
		args = append(args, models.ProductApproved)
	} else if statusFilter != "" {
		query += ` WHERE status = ?`
		args = append(args, statusFilter)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternal("list products", err)
	}
	defer rows.Close()

	products := make([]models.Product, 0)
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Description, &p.Price, &p.Stock, &p.Status, &p.CreatedBy, &p.CreatedAt, &p.ApprovedAt, &p.ApprovedBy); err != nil {
			return nil, apperrors.NewInternal("scan product", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternal("read products", err)
	}
	return products, nil
}

// UpdateProduct applies the fields present in req, leaving the rest alone.
// Stock is never touched here. Only the creator or a privileged caller may
// update, and non-privileged creators only while the product is pending.
func (s *ProductService) UpdateProduct(ctx context.Context, id int, requester models.Identity, req models.UpdateProductRequest) (*models.Product, error) {
	current, err := s.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if current.CreatedBy != requester.UserID && !requester.Privileged() {
		return nil, apperrors.NewForbidden(fmt.Sprintf("product %d", id), "update")
	}
	if current.Status != models.ProductPending && !requester.Privileged() {
		return nil, apperrors.NewInvalidState(fmt.Sprintf("product %d is %s and can no longer be edited by its creator", id, current.Status))
	}
	if req.Price != nil && !req.Price.IsPositive() {
		return nil, apperrors.NewValidation(map[string][]string{"price": {"must be greater than zero"}})
	}

	var sets []string
	var args []any
	if req.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *req.Name)
	}
	if req.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, *req.Description)
	}
	if req.Price != nil {
		sets = append(sets, "price = ?")
		args = append(args, *req.Price)
	}
	if len(sets) == 0 {
		return current, nil
	}
	args = append(args, id)

	if _, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE products SET %s WHERE id = ?`, strings.Join(sets, ", ")), args...); err != nil {
		return nil, apperrors.NewInternal("update product", err)
	}
	return s.GetProduct(ctx, id)
}

// SetApproval approves or rejects a pending product. The transition happens
// at most once; the WHERE clause on pending status makes the decision
// race-safe without an extra lock.
func (s *ProductService) SetApproval(ctx context.Context, id int, approverID int, approve bool) (*models.Product, error) {
	status := models.ProductApproved
	if !approve {
		status = models.ProductRejected
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET status = ?, approved_at = ?, approved_by = ? WHERE id = ? AND status = ?`,
		status, time.Now(), approverID, id, models.ProductPending)
	if err != nil {
		return nil, apperrors.NewInternal("update product approval", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, apperrors.NewInternal("read affected rows", err)
	}
	if affected == 0 {
		current, err := s.GetProduct(ctx, id)
		if err != nil {
			return nil, err // not found
		}
		return nil, apperrors.NewInvalidState(fmt.Sprintf("product %d is already %s", id, current.Status))
	}
	return s.GetProduct(ctx, id)
}

// DeleteProduct removes a product that no order references. The row lock
// serializes against order placement, so no order item can slip in between
// the reference count and the delete.
func (s *ProductService) DeleteProduct(ctx context.Context, id int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternal("begin delete transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var lockedID int
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM products WHERE id = ? FOR UPDATE`, id).Scan(&lockedID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound("product", strconv.Itoa(id))
	}
	if err != nil {
		return apperrors.NewInternal("lock product", err)
	}

	var refs int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM order_items WHERE product_id = ?`, id).Scan(&refs); err != nil {
		return apperrors.NewInternal("count product references", err)
	}
	if refs > 0 {
		return apperrors.NewConflict("product", fmt.Sprintf("product %d is referenced by %d order item(s)", id, refs))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM products WHERE id = ?`, id); err != nil {
		return apperrors.NewInternal("delete product", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternal("commit delete transaction", err)
	}
	return nil
}
