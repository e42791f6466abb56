package db

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrTransient        = errors.New("transient database error")
	ErrPermanent        = errors.New("permanent database error")
	ErrTenantContext    = errors.New("tenant context setup failed")
	ErrFunctionNotFound = errors.New("database function not found")
	ErrInvalidTenant    = errors.New("tenant id is required")
	ErrInvalidFunction  = errors.New("invalid function name")
	ErrClosed           = errors.New("database client is closed")
)

const undefinedFunction = "42883"

// transientCodes are SQLSTATEs worth another attempt; class 08 is matched by prefix.
var transientCodes = map[string]bool{
	"53300": true, // too_many_connections
	"57P01": true, // admin_shutdown
	"57P02": true, // crash_shutdown
	"57P03": true, // cannot_connect_now
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
}

// classify tags err with ErrTransient or ErrPermanent. Tenant scoping failures
// and caller cancellation are never retried.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrTenantContext), errors.Is(err, ErrInvalidTenant):
		return err
	case errors.Is(err, context.Canceled):
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == undefinedFunction:
			return fmt.Errorf("%w: %w: %w", ErrPermanent, ErrFunctionNotFound, err)
		case strings.HasPrefix(pgErr.Code, "08"), transientCodes[pgErr.Code]:
			return fmt.Errorf("%w: %w", ErrTransient, err)
		default:
			return fmt.Errorf("%w: %w", ErrPermanent, err)
		}
	}

	if isTransientTransport(err) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	return fmt.Errorf("%w: %w", ErrPermanent, err)
}

func isTransientTransport(err error) bool {
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return true
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
