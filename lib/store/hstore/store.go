package hstore

import (
	"errors"

	"github.com/ValentinKolb/levelkv/lib/host"
	"github.com/ValentinKolb/levelkv/lib/store"
)

type storeImpl struct {
	host *host.Host
}

// NewHostStore creates a read-only view on h. The store does not own h,
// closing the store leaves h untouched.
func NewHostStore(h *host.Host) store.IStore {
	return &storeImpl{host: h}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see store/interface.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Set(string, []byte) error {
	return store.NewError(store.RetCUnsupportedOperation, "the host view is read-only")
}

func (s *storeImpl) Update(string, []byte) (bool, error) {
	return false, store.NewError(store.RetCUnsupportedOperation, "the host view is read-only")
}

func (s *storeImpl) Delete(string) (bool, error) {
	return false, store.NewError(store.RetCUnsupportedOperation, "the host view is read-only")
}

func (s *storeImpl) Get(key string) ([]byte, bool, error) {
	k, err := store.ToKey(key)
	if err != nil {
		return nil, false, err
	}
	v, ok, err := s.host.Lookup(k)
	if err != nil {
		if errors.Is(err, host.ErrClosed) {
			return nil, false, store.NewError(store.RetCUnavailable, err.Error())
		}
		return nil, false, store.NewError(store.RetCInternalError, err.Error())
	}
	if !ok {
		return nil, false, nil
	}
	return v.Bytes(), true, nil
}

func (s *storeImpl) Has(key string) (bool, error) {
	_, ok, err := s.Get(key)
	return ok, err
}

func (s *storeImpl) SupportsFeature(feature store.Feature) bool {
	return feature == store.FeatureGet || feature == store.FeatureHas
}

func (s *storeImpl) Close() error {
	return nil
}
