//go:build cgo

package kernels

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/netlib/blas/netlib"
)

// With cgo the generic tier's matrix products run on the system BLAS.
func init() {
	blas64.Use(netlib.Implementation{})
	log.Debug().Msg("Generic kernels using netlib BLAS")
}
