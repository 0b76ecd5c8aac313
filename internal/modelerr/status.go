package modelerr

import "fmt"

// Status is a bare result code. Non-success values identify which
// capability or runtime constraint was violated.
type Status int

const (
	StatusSuccess Status = iota
	StatusUnknown
	StatusNotImplemented
	StatusNullArgumentNotAllowed
	StatusNullArgumentRequired
	StatusResourceAllocation
	StatusDeviceVersionUnsupported
	StatusDataTypeUnsupported
	StatusMemoryAlignment
	StatusMemoryOutOfBounds
	StatusModelConfigInvalid
	StatusLayerKind
	StatusLayerConfig
	StatusInputVolume
	StatusOutputVolume
	StatusWeightVolume
	StatusBiasVolume
	StatusInputBytes
	StatusOutputBytes
	StatusWeightBytes
	StatusBiasBytes
	StatusBiasMode
	StatusBiasIndex
	StatusPwlSegments
	StatusActiveListIndices
	StatusGrouping
	StatusDelay
	StatusConvFilterStride
	StatusConvFilterVolume
	StatusConvFilterCount
	StatusConvPadding
	StatusPoolStride
	StatusPoolSize
	StatusPoolType
	StatusGmmMeanWidth
	StatusGmmVarWidth
	StatusGmmConstWidth
	StatusGmmMixtureCount
	StatusGmmStateCount
	StatusGmmMaxScore
	StatusCopyShape
	StatusTransposeShape

	statusCount
)

var statusNames = [statusCount]string{
	StatusSuccess:                  "success",
	StatusUnknown:                  "unknown error",
	StatusNotImplemented:           "not implemented",
	StatusNullArgumentNotAllowed:   "null argument not allowed",
	StatusNullArgumentRequired:     "null argument required",
	StatusResourceAllocation:       "resource allocation failed",
	StatusDeviceVersionUnsupported: "operation not supported on device generation",
	StatusDataTypeUnsupported:      "operand type combination not supported",
	StatusMemoryAlignment:          "buffer not aligned",
	StatusMemoryOutOfBounds:        "buffer outside declared memory",
	StatusModelConfigInvalid:       "invalid model configuration",
	StatusLayerKind:                "invalid operation kind",
	StatusLayerConfig:              "invalid operation configuration",
	StatusInputVolume:              "invalid input volume",
	StatusOutputVolume:             "invalid output volume",
	StatusWeightVolume:             "invalid weight volume",
	StatusBiasVolume:               "invalid bias volume",
	StatusInputBytes:               "invalid input element type",
	StatusOutputBytes:              "invalid output element type",
	StatusWeightBytes:              "invalid weight element type",
	StatusBiasBytes:                "invalid bias element type",
	StatusBiasMode:                 "invalid bias mode",
	StatusBiasIndex:                "invalid bias vector index",
	StatusPwlSegments:              "invalid activation segment count",
	StatusActiveListIndices:        "invalid active list",
	StatusGrouping:                 "invalid grouping",
	StatusDelay:                    "invalid recurrent delay",
	StatusConvFilterStride:         "invalid convolution stride",
	StatusConvFilterVolume:         "invalid filter volume",
	StatusConvFilterCount:          "invalid filter count",
	StatusConvPadding:              "invalid zero padding",
	StatusPoolStride:               "invalid pooling stride",
	StatusPoolSize:                 "invalid pooling window",
	StatusPoolType:                 "invalid pooling mode",
	StatusGmmMeanWidth:             "invalid gmm feature length",
	StatusGmmVarWidth:              "invalid gmm inverse covariance type",
	StatusGmmConstWidth:            "invalid gmm constants",
	StatusGmmMixtureCount:          "invalid gmm mixture count",
	StatusGmmStateCount:            "invalid gmm state count",
	StatusGmmMaxScore:              "invalid gmm maximum score",
	StatusCopyShape:                "invalid copy shape",
	StatusTransposeShape:           "invalid transposition shape",
}

func (s Status) String() string {
	if s < 0 || s >= statusCount {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}
