package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shop-service/apperrors"
	"shop-service/models"
)

// OrderService owns every mutation of order state and, through orders, of
// product stock. Each multi-step mutation runs in one transaction; the
// transaction boundary is what keeps concurrent placements from driving
// stock negative, not any in-process locking.
type OrderService struct {
	db *sql.DB
}

func NewOrderService(db *sql.DB) *OrderService {
	return &OrderService{db: db}
}

// PlaceOrder validates the requested items against approved products,
// reserves stock and persists the order atomically. Any violation aborts
// the whole operation with no partial order and no stock change.
func (s *OrderService) PlaceOrder(ctx context.Context, userID int, items []models.OrderItemRequest) (*models.Order, error) {
	if len(items) == 0 {
		return nil, apperrors.NewValidation(map[string][]string{"items": {"must contain at least one item"}})
	}
	for _, it := range items {
		if it.Quantity < 1 {
			return nil, apperrors.NewValidation(map[string][]string{"items": {"every quantity must be at least 1"}})
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperrors.NewInternal("begin order transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Lock the product rows so racing placements serialize on stock.
	productIDs := distinctProductIDs(items)
	query := fmt.Sprintf(
		`SELECT id, name, price, stock FROM products WHERE id IN (%s) AND status = ? FOR UPDATE`,
		placeholders(len(productIDs)))
	args := make([]any, 0, len(productIDs)+1)
	for _, id := range productIDs {
		args = append(args, id)
	}
	args = append(args, models.ProductApproved)

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewInternal("load products for order", err)
	}

	type productRow struct {
		name  string
		price decimal.Decimal
		stock int
	}
	products := make(map[int]*productRow)
	for rows.Next() {
		var id int
		var p productRow
		if err := rows.Scan(&id, &p.name, &p.price, &p.stock); err != nil {
			rows.Close()
			return nil, apperrors.NewInternal("scan product row", err)
		}
		products[id] = &p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternal("read product rows", err)
	}

	if len(products) != len(productIDs) {
		return nil, apperrors.NewValidation(map[string][]string{
			"items": {"one or more products unavailable or unapproved"},
		})
	}

	// Check stock line by line, failing fast on the first shortage. Stock is
	// tracked locally so repeated lines for one product cannot overdraw it.
	total := decimal.Zero
	orderItems := make([]models.OrderItem, 0, len(items))
	for _, it := range items {
		p := products[it.ProductID]
		if p.stock < it.Quantity {
			return nil, apperrors.NewInsufficientStock(p.name, p.stock, it.Quantity)
		}
		p.stock -= it.Quantity

		subtotal := p.price.Mul(decimal.NewFromInt(int64(it.Quantity)))
		total = total.Add(subtotal)
		orderItems = append(orderItems, models.OrderItem{
			ProductID:   it.ProductID,
			ProductName: p.name,
			Quantity:    it.Quantity,
			UnitPrice:   p.price,
			Subtotal:    subtotal,
		})
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO orders (user_id, total, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		userID, total, models.OrderPending, now, now)
	if err != nil {
		return nil, apperrors.NewInternal("insert order", err)
	}
	orderID, err := res.LastInsertId()
	if err != nil {
		return nil, apperrors.NewInternal("read order id", err)
	}

	for _, item := range orderItems {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal) VALUES (?, ?, ?, ?, ?, ?)`,
			orderID, item.ProductID, item.ProductName, item.Quantity, item.UnitPrice, item.Subtotal); err != nil {
			return nil, apperrors.NewInternal("insert order item", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = stock - ? WHERE id = ?`,
			item.Quantity, item.ProductID); err != nil {
			return nil, apperrors.NewInternal("decrement product stock", err)
		}
	}

	// Items are committed with the order, so it goes straight to processing.
	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ?`,
		models.OrderProcessing, orderID); err != nil {
		return nil, apperrors.NewInternal("advance order to processing", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperrors.NewInternal("commit order transaction", err)
	}

	return &models.Order{
		ID:        int(orderID),
		UserID:    userID,
		Total:     total,
		Status:    models.OrderProcessing,
		CreatedAt: now,
		UpdatedAt: now,
		Items:     orderItems,
	}, nil
}

// CancelOrder restores stock for every item and moves the order to
// cancelled, atomically. Terminal orders are rejected, never silently
// re-cancelled.
func (s *OrderService) CancelOrder(ctx context.Context, orderID int, requester models.Identity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternal("begin cancel transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var ownerID int
	var status models.OrderStatus
	err = tx.QueryRowContext(ctx,
		`SELECT user_id, status FROM orders WHERE id = ? FOR UPDATE`, orderID).
		Scan(&ownerID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound("order", strconv.Itoa(orderID))
	}
	if err != nil {
		return apperrors.NewInternal("load order", err)
	}

	if ownerID != requester.UserID && !requester.Privileged() {
		return apperrors.NewForbidden(fmt.Sprintf("order %d", orderID), "cancel")
	}
	if status.IsTerminal() {
		return apperrors.NewInvalidState(fmt.Sprintf("order %d is %s and cannot be cancelled", orderID, status))
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT product_id, quantity FROM order_items WHERE order_id = ?`, orderID)
	if err != nil {
		return apperrors.NewInternal("load order items", err)
	}
	type restore struct{ productID, quantity int }
	var restores []restore
	for rows.Next() {
		var r restore
		if err := rows.Scan(&r.productID, &r.quantity); err != nil {
			rows.Close()
			return apperrors.NewInternal("scan order item", err)
		}
		restores = append(restores, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.NewInternal("read order items", err)
	}

	for _, r := range restores {
		if _, err := tx.ExecContext(ctx,
			`UPDATE products SET stock = stock + ? WHERE id = ?`,
			r.quantity, r.productID); err != nil {
			return apperrors.NewInternal("restore product stock", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = ? WHERE id = ?`,
		models.OrderCancelled, orderID); err != nil {
		return apperrors.NewInternal("mark order cancelled", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternal("commit cancel transaction", err)
	}
	return nil
}

// UpdateOrderStatus is the administrative transition. Terminal states are
// immutable; completing an order stamps completed_at exactly once.
func (s *OrderService) UpdateOrderStatus(ctx context.Context, orderID int, newStatus models.OrderStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewInternal("begin status transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	var status models.OrderStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM orders WHERE id = ? FOR UPDATE`, orderID).
		Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return apperrors.NewNotFound("order", strconv.Itoa(orderID))
	}
	if err != nil {
		return apperrors.NewInternal("load order status", err)
	}

	if status.IsTerminal() {
		return apperrors.NewInvalidState(fmt.Sprintf("order %d is %s; terminal orders cannot change status", orderID, status))
	}

	if newStatus == models.OrderCompleted {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = ?, completed_at = ? WHERE id = ?`,
			newStatus, time.Now(), orderID)
	} else {
		_, err = tx.ExecContext(ctx,
			`UPDATE orders SET status = ? WHERE id = ?`,
			newStatus, orderID)
	}
	if err != nil {
		return apperrors.NewInternal("update order status", err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewInternal("commit status transaction", err)
	}
	return nil
}

// GetOrder returns one order with its items. Non-owners without privilege
// get a not-found, so order ids cannot be probed.
func (s *OrderService) GetOrder(ctx context.Context, orderID int, requester models.Identity) (*models.Order, error) {
	order := &models.Order{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, total, status, created_at, updated_at, completed_at FROM orders WHERE id = ?`,
		orderID).
		Scan(&order.ID, &order.UserID, &order.Total, &order.Status, &order.CreatedAt, &order.UpdatedAt, &order.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFound("order", strconv.Itoa(orderID))
	}
	if err != nil {
		return nil, apperrors.NewInternal("load order", err)
	}

	if order.UserID != requester.UserID && !requester.Privileged() {
		return nil, apperrors.NewNotFound("order", strconv.Itoa(orderID))
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT product_id, product_name, quantity, unit_price, subtotal FROM order_items WHERE order_id = ? ORDER BY id ASC`,
		orderID)
	if err != nil {
		return nil, apperrors.NewInternal("load order items", err)
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, apperrors.NewInternal("scan order item", err)
		}
		order.Items = append(order.Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternal("read order items", err)
	}
	return order, nil
}

// ListOrders returns all orders owned by userID, newest first.
func (s *OrderService) ListOrders(ctx context.Context, userID int) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT o.id, o.user_id, o.total, o.status, o.created_at, o.updated_at, o.completed_at,
		       oi.product_id, oi.product_name, oi.quantity, oi.unit_price, oi.subtotal
		FROM orders o
		JOIN order_items oi ON o.id = oi.order_id
		WHERE o.user_id = ?
		ORDER BY o.created_at DESC, oi.id ASC`, userID)
	if err != nil {
		return nil, apperrors.NewInternal("list orders", err)
	}
	defer rows.Close()

	var orders []models.Order
	index := make(map[int]int)
	for rows.Next() {
		var o models.Order
		var item models.OrderItem
		if err := rows.Scan(&o.ID, &o.UserID, &o.Total, &o.Status, &o.CreatedAt, &o.UpdatedAt, &o.CompletedAt,
			&item.ProductID, &item.ProductName, &item.Quantity, &item.UnitPrice, &item.Subtotal); err != nil {
			return nil, apperrors.NewInternal("scan order row", err)
		}
		pos, seen := index[o.ID]
		if !seen {
			orders = append(orders, o)
			pos = len(orders) - 1
			index[o.ID] = pos
		}
		orders[pos].Items = append(orders[pos].Items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewInternal("read order rows", err)
	}
	return orders, nil
}

func distinctProductIDs(items []models.OrderItemRequest) []int {
	seen := make(map[int]bool, len(items))
	ids := make([]int, 0, len(items))
	for _, it := range items {
		if !seen[it.ProductID] {
			seen[it.ProductID] = true
			ids = append(ids, it.ProductID)
		}
	}
	return ids
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
