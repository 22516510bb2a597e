//go:build !unix

package shm

import (
	"errors"

	"github.com/ValentinKolb/levelkv/lib/transport"
)

var errUnsupported = errors.New("shared memory transport is only supported on unix systems")

type segment struct{ transport.Region }

func createSegment(string, uint64) (*segment, error) { return nil, errUnsupported }

func openSegment(string, uint64) (*segment, error) { return nil, errUnsupported }
