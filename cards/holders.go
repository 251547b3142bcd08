package cards

import (
	"context"
	"strings"
	"unicode/utf8"
)

const (
	maxFirstNameLen  = 50
	maxLastNameLen   = 100
	maxPatronymicLen = 100
)

// Holders is the card holder registry.
type Holders struct {
	store TxStore
	opts  options
}

func NewHolders(store TxStore, opts ...Option) *Holders {
	return &Holders{store: store, opts: buildOptions(opts)}
}

// Register validates and stores a new holder.
func (h *Holders) Register(ctx context.Context, req NewHolder) (Holder, error) {
	holder := Holder{
		ID:          HolderID(h.opts.newID()),
		FirstName:   strings.TrimSpace(req.FirstName),
		LastName:    strings.TrimSpace(req.LastName),
		Patronymic:  strings.TrimSpace(req.Patronymic),
		PhoneNumber: req.PhoneNumber,
		CreatedAt:   h.opts.clock(),
	}
	if err := validateHolder(holder); err != nil {
		return Holder{}, err
	}

	if err := h.store.InsertHolder(ctx, holder); err != nil {
		return Holder{}, wrapStorage("insert holder", err)
	}
	return holder, nil
}

func (h *Holders) Get(ctx context.Context, id HolderID) (Holder, error) {
	holder, err := h.store.GetHolder(ctx, id)
	if err != nil {
		return Holder{}, wrapStorage("get holder", err)
	}
	return holder, nil
}

// List returns holders ordered by last, first and patronymic name.
func (h *Holders) List(ctx context.Context) ([]Holder, error) {
	holders, err := h.store.ListHolders(ctx)
	if err != nil {
		return nil, wrapStorage("list holders", err)
	}
	return holders, nil
}

// Delete removes the holder together with every card it owns.
// No DELETE operation is recorded for the cascaded cards.
func (h *Holders) Delete(ctx context.Context, id HolderID) error {
	return wrapStorage("delete holder", h.store.DeleteHolder(ctx, id))
}

// Cards lists the holder's cards in issue order.
func (h *Holders) Cards(ctx context.Context, id HolderID) ([]Card, error) {
	var out []Card
	err := h.store.WithTx(ctx, func(s Store) error {
		if _, err := s.GetHolder(ctx, id); err != nil {
			return err
		}
		cs, err := s.ListCards(ctx, id)
		out = cs
		return err
	})
	if err != nil {
		return nil, wrapStorage("list holder cards", err)
	}
	return out, nil
}

func validateHolder(h Holder) error {
	switch {
	case h.FirstName == "":
		return &ValidationError{Field: "first_name", Reason: "required"}
	case utf8.RuneCountInString(h.FirstName) > maxFirstNameLen:
		return &ValidationError{Field: "first_name", Reason: "too long"}
	case h.LastName == "":
		return &ValidationError{Field: "last_name", Reason: "required"}
	case utf8.RuneCountInString(h.LastName) > maxLastNameLen:
		return &ValidationError{Field: "last_name", Reason: "too long"}
	case utf8.RuneCountInString(h.Patronymic) > maxPatronymicLen:
		return &ValidationError{Field: "patronymic", Reason: "too long"}
	case h.PhoneNumber <= 0:
		return &ValidationError{Field: "phone_number", Reason: "must be a positive integer"}
	}
	return nil
}
