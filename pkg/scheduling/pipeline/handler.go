package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	tcerrors "github.com/vnykmshr/taskchain/pkg/common/errors"
)

// Handler claims errors of exactly one category: the dynamic type of the
// error value. Build one with On.
type Handler struct {
	category reflect.Type
	handle   func(ctx context.Context, err error)
}

// On returns a handler for errors whose dynamic type is exactly E.
//
// Matching is exact. A handler for *BaseError does not fire for a
// *DerivedError, even when *DerivedError embeds or wraps *BaseError.
// E must be a concrete type; interface categories are rejected when the
// handler is registered.
func On[E error](fn func(context.Context, E)) Handler {
	if fn == nil {
		return Handler{category: typeOf[E]()}
	}
	return Handler{
		category: typeOf[E](),
		handle: func(ctx context.Context, err error) {
			fn(ctx, err.(E))
		},
	}
}

// Category returns the error type the handler claims.
func (h Handler) Category() reflect.Type {
	return h.category
}

func (h Handler) validate(scope string) error {
	if h.handle == nil {
		return tcerrors.NewValidationError(scope, "handler", nil, "cannot be nil")
	}
	if h.category == nil || h.category.Kind() == reflect.Interface {
		return tcerrors.NewValidationError(scope, "category", h.category, "must be a concrete error type").
			WithHint("exact-category dispatch never matches an interface type")
	}
	return nil
}

// HandlerTable maps error categories to handlers. A category is registered
// at most once. Once frozen the table rejects registration.
type HandlerTable struct {
	scope    string
	mu       sync.RWMutex
	handlers map[reflect.Type]Handler
	frozen   bool
}

// NewHandlerTable creates an empty table. scope names the table in errors.
func NewHandlerTable(scope string) *HandlerTable {
	return &HandlerTable{
		scope:    scope,
		handlers: make(map[reflect.Type]Handler),
	}
}

// Register adds h to the table.
func (t *HandlerTable) Register(h Handler) error {
	if err := h.validate(t.scope); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.frozen {
		return fmt.Errorf("%s: cannot register handler for %s: %w", t.scope, h.category, tcerrors.ErrFrozen)
	}
	if _, exists := t.handlers[h.category]; exists {
		return &tcerrors.DuplicateHandlerError{Scope: t.scope, Category: h.category}
	}
	t.handlers[h.category] = h
	return nil
}

// Lookup returns the handler registered for the exact dynamic type of err.
func (t *HandlerTable) Lookup(err error) (Handler, bool) {
	if err == nil {
		return Handler{}, false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	h, ok := t.handlers[reflect.TypeOf(err)]
	return h, ok
}

// Len returns the number of registered categories.
func (t *HandlerTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.handlers)
}

// Frozen reports whether the table still accepts registration.
func (t *HandlerTable) Frozen() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.frozen
}

func (t *HandlerTable) freeze() {
	t.mu.Lock()
	t.frozen = true
	t.mu.Unlock()
}

// dispatchResult splits constituent errors into the ones a handler claimed
// and the ones that escape.
type dispatchResult struct {
	handled   []error
	unhandled []error
}

// dispatch tests every error independently against the table. A handler
// that panics leaves its error claimed and adds the panic as an escaped error.
func (t *HandlerTable) dispatch(ctx context.Context, errs []error) dispatchResult {
	var res dispatchResult
	for _, err := range errs {
		h, ok := t.Lookup(err)
		if !ok {
			res.unhandled = append(res.unhandled, err)
			continue
		}
		res.handled = append(res.handled, err)
		if perr := recoverHandler(ctx, h, err); perr != nil {
			res.unhandled = append(res.unhandled, perr)
		}
	}
	return res
}
