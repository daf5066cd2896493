package interpreter

import (
	"github.com/mit-dci/opencbdc-tx-go/internal/evm/host"
)

// maxCallDepth bounds CALL/CREATE recursion, matching the standard EVM
// limit (go-ethereum's params.CallCreateDepth).
const maxCallDepth = 1024

// frame is the per-invocation environment threaded through every
// instruction: the host it reads/writes state through (which itself
// carries the transaction-wide origin/gas price constants), the current
// call's read-only-ness, its depth in the CALL/CREATE tree, and the most
// recent sub-call's return data (RETURNDATACOPY/RETURNDATASIZE).
type frame struct {
	h        *host.Host
	readOnly bool
	depth    int

	returnData []byte
}
