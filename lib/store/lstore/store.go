package lstore

import (
	"errors"

	"github.com/ValentinKolb/levelkv/lib/engine"
	"github.com/ValentinKolb/levelkv/lib/store"
)

type storeImpl struct {
	engine *engine.Engine
}

// NewLocalStore creates a store that forwards every operation to e.
// Closing the store closes e.
func NewLocalStore(e *engine.Engine) store.IStore {
	return &storeImpl{engine: e}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(key string, value []byte) error {
	k, err := store.ToKey(key)
	if err != nil {
		return err
	}
	v, err := store.ToValue(value)
	if err != nil {
		return err
	}
	ok, err := s.engine.Insert(k, v)
	if err != nil {
		return convertError(err)
	}
	if !ok {
		return store.NewError(store.RetCTableFull, "all candidate buckets of "+key+" are full")
	}
	return nil
}

func (s *storeImpl) Update(key string, value []byte) (bool, error) {
	k, err := store.ToKey(key)
	if err != nil {
		return false, err
	}
	v, err := store.ToValue(value)
	if err != nil {
		return false, err
	}
	ok, err := s.engine.Update(k, v)
	return ok, convertError(err)
}

func (s *storeImpl) Delete(key string) (bool, error) {
	k, err := store.ToKey(key)
	if err != nil {
		return false, err
	}
	ok, err := s.engine.Delete(k)
	return ok, convertError(err)
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	k, err := store.ToKey(key)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := s.engine.Search(k)
	if err != nil || !ok {
		return nil, false, convertError(err)
	}
	return v.Bytes(), true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *storeImpl) SupportsFeature(store.Feature) bool {
	return true
}

func (s *storeImpl) Close() error {
	return convertError(s.engine.Close())
}

// convertError maps engine errors to store errors
func convertError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, engine.ErrTableFull):
		return store.NewError(store.RetCTableFull, err.Error())
	case errors.Is(err, engine.ErrTransport), errors.Is(err, engine.ErrProtocol), errors.Is(err, engine.ErrClosed):
		return store.NewError(store.RetCUnavailable, err.Error())
	default:
		return store.NewError(store.RetCInternalError, err.Error())
	}
}
