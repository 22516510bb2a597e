package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/levelkv/lib/level"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// Feature is an optional store capability
type Feature uint8

const (
	FeatureSet Feature = iota
	FeatureUpdate
	FeatureDelete
	FeatureGet
	FeatureHas
)

// IStore is the generic interface for interacting with levelkv.
// Write operations return an *Error on failure, read operations return the
// requested data along with an *Error (nil on success).
type IStore interface {
	// Set inserts or overwrites a key-value pair
	Set(key string, value []byte) (err error)
	// Update replaces the value of an existing key. It reports whether the key existed.
	Update(key string, value []byte) (updated bool, err error)
	// Delete removes a key. It reports whether the key existed.
	Delete(key string) (deleted bool, err error)
	// Get returns the value for a key. The boolean indicates whether the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// Has returns whether a key exists
	Has(key string) (loaded bool, err error)
	// SupportsFeature reports whether the store implements the operation
	SupportsFeature(feature Feature) bool
	// Close releases the store
	Close() error
}

// --------------------------------------------------------------------------
// Conversion
// --------------------------------------------------------------------------

// ToKey converts key or returns an RetCInvalidOperation error
func ToKey(key string) (level.Key, error) {
	k, err := level.KeyFromString(key)
	if err != nil {
		return k, NewError(RetCInvalidOperation, err.Error())
	}
	return k, nil
}

// ToValue converts value or returns an RetCInvalidOperation error
func ToValue(value []byte) (level.Value, error) {
	v, err := level.ValueFromBytes(value)
	if err != nil {
		return v, NewError(RetCInvalidOperation, err.Error())
	}
	return v, nil
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// NewError creates a new Error with the given code and message
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// CodeOf returns the code of a store error, RetCSuccess for nil and
// RetCInternalError for any other error
func CodeOf(err error) RetCode {
	if err == nil {
		return RetCSuccess
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return RetCInternalError
}

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the store.
	RetCInvalidOperation                    // 3: Invalid operation, e.g. a key that is too long.
	RetCTableFull                           // 4: No free slot for the key.
	RetCUnavailable                         // 5: The table could not be reached (transport, protocol or closed).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCTableFull:
		return "TableFull"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
