package khata

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MaxCustomerNameLength bounds Customer.Name in runes.
const MaxCustomerNameLength = 100

// CustomerInput carries the user editable customer fields.
// Balance is never part of it: only transactions move a balance.
type CustomerInput struct {
	Name    string
	Phone   string
	Address string
}

func (in CustomerInput) normalize() (CustomerInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Address = strings.TrimSpace(in.Address)
	if in.Name == "" {
		return in, &ValidationError{Field: "name", Message: "customer name is required"}
	}
	if utf8.RuneCountInString(in.Name) > MaxCustomerNameLength {
		return in, &ValidationError{Field: "name", Message: "must be at most 100 characters"}
	}
	return in, nil
}

// CreateCustomer opens an empty khata for a new customer.
func (l *Ledger) CreateCustomer(ctx context.Context, ownerID OwnerID, in CustomerInput) (Customer, error) {
	in, err := in.normalize()
	if err != nil {
		return Customer{}, err
	}
	now := l.now()
	c := Customer{
		ID:         CustomerID(l.newID()),
		OwnerID:    ownerID,
		Name:       in.Name,
		Phone:      in.Phone,
		Address:    in.Address,
		Balance:    decimal.Zero,
		ShareToken: uuid.NewString(),
		Version:    1,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := l.store.CreateCustomer(ctx, c); err != nil {
		return Customer{}, WrapStoreError("create customer", err)
	}
	return c, nil
}

func (l *Ledger) GetCustomer(ctx context.Context, ownerID OwnerID, id CustomerID) (Customer, error) {
	c, err := l.store.GetCustomer(ctx, ownerID, id)
	if err != nil {
		return Customer{}, WrapStoreError("get customer", err)
	}
	return c, nil
}

func (l *Ledger) ListCustomers(ctx context.Context, ownerID OwnerID, filter CustomerFilter) ([]Customer, error) {
	if !ValidBalanceFilter(filter.Balance) {
		return nil, &ValidationError{Field: "filter", Message: "must be positive, negative or settled"}
	}
	if !ValidCustomerSort(filter.Sort) {
		return nil, &ValidationError{Field: "sort", Message: "must be name, balance-high, balance-low or recent"}
	}
	customers, err := l.store.ListCustomers(ctx, ownerID, filter)
	if err != nil {
		return nil, WrapStoreError("list customers", err)
	}
	return customers, nil
}

// UpdateCustomer changes name, phone and address.
func (l *Ledger) UpdateCustomer(ctx context.Context, ownerID OwnerID, id CustomerID, in CustomerInput) (Customer, error) {
	in, err := in.normalize()
	if err != nil {
		return Customer{}, err
	}
	var updated Customer
	err = l.mutate(ctx, "update customer", id, func(s Store) error {
		c, err := s.GetCustomer(ctx, ownerID, id)
		if err != nil {
			return err
		}
		c.Name, c.Phone, c.Address = in.Name, in.Phone, in.Address
		c.UpdatedAt = l.now()
		if err := saveCustomer(ctx, s, &c); err != nil {
			return err
		}
		updated = c
		return nil
	})
	return updated, err
}

// DeleteCustomer removes the customer together with all of its transactions.
func (l *Ledger) DeleteCustomer(ctx context.Context, ownerID OwnerID, id CustomerID) error {
	var balance decimal.Decimal
	err := l.mutate(ctx, "delete customer", id, func(s Store) error {
		c, err := s.GetCustomer(ctx, ownerID, id)
		if err != nil {
			return err
		}
		balance = c.Balance
		return s.DeleteCustomer(ctx, ownerID, id)
	})
	if err != nil {
		return err
	}
	l.publish(ctx, Event{
		Type:       EventCustomerDeleted,
		OwnerID:    ownerID,
		CustomerID: id,
		Balance:    balance,
	})
	return nil
}

// GroupShare returns the owner's group share, creating it on first use.
func (l *Ledger) GroupShare(ctx context.Context, ownerID OwnerID) (GroupShare, error) {
	var share GroupShare
	err := l.store.WithTx(ctx, func(s Store) error {
		g, err := s.GetGroupShare(ctx, ownerID)
		if err == nil {
			share = g
			return nil
		}
		if !IsNotFound(err) {
			return err
		}
		share = GroupShare{OwnerID: ownerID, Token: uuid.NewString(), CreatedAt: l.now()}
		return s.CreateGroupShare(ctx, share)
	})
	if IsRetryable(err) {
		// Another request created it first.
		share, err = l.store.GetGroupShare(ctx, ownerID)
	}
	if err != nil {
		return GroupShare{}, WrapStoreError("group share", err)
	}
	return share, nil
}
