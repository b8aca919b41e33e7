package events

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Reasons carried by LogErrorWithHintBytes32 and LogOrderDefaulted.
const (
	ReasonSignerNotOrderCreator    = "SIGNER_NOT_ORDER_CREATOR"
	ReasonSignerNotAccountUser     = "SIGNER_NOT_ACCOUNT_USER"
	ReasonInvalidOrderAccount      = "INVALID_ORDER_ACCOUNT"
	ReasonInvalidOrderValues       = "INVALID_ORDER_VALUES"
	ReasonOrderAlreadyExists       = "ORDER_ALREADY_EXISTS"
	ReasonOrderDoesNotExist        = "ORDER_DOES_NOT_EXIST"
	ReasonOrderNotOpen             = "ORDER_NOT_OPEN"
	ReasonOrderNotMatured          = "ORDER_NOT_MATURED"
	ReasonOrderAlreadyCancelled    = "ORDER_ALREADY_CANCELLED"
	ReasonInvalidRepayValue        = "INVALID_REPAY_VALUE"
	ReasonInvalidExchangeConnector = "INVALID_EXCHANGE_CONNECTOR"
	ReasonInvalidExchangeRate      = "INVALID_EXCHANGE_RATE"
	ReasonRateOutOfBand            = "EXCHANGE_RATE_OUT_OF_BAND"
	ReasonUnauthorizedCaller       = "UNAUTHORIZED_CALLER"
	ReasonAdminControlDisabled     = "ADMIN_CONTROL_DISABLED"
	ReasonAccountAlreadyExists     = "ACCOUNT_ALREADY_EXISTS"
	ReasonUserAlreadyExists        = "USER_ALREADY_EXISTS"
	ReasonUserDoesNotExist         = "USER_DOES_NOT_EXIST"
	ReasonLastUser                 = "CANNOT_REMOVE_LAST_USER"
	ReasonSaltAlreadyUsed          = "SALT_ALREADY_USED"
	ReasonInvalidMaxPeriods        = "INVALID_MAX_PERIODS"
	ReasonMKernelDueDatePassed     = "MKERNEL_DUE_DATE_PASSED"
	ReasonMKernelOrderUnsafe       = "MKERNEL_ORDER_UNSAFE"
	ReasonMKernelOrderSafe         = "MKERNEL_ORDER_SAFE"
	ReasonMKernelDueDateNotReached = "MKERNEL_DUE_DATE_NOT_REACHED"
	ReasonMKernelStopProfitNotHit  = "MKERNEL_STOP_PROFIT_NOT_REACHED"
	ReasonMKernelUserLiquidation   = "MKERNEL_USER_LIQUIDATION"
	ReasonMKernelStopProfitReached = "MKERNEL_STOP_PROFIT_REACHED"
	ReasonKernelDueDatePassed      = "KERNEL_DUE_DATE_PASSED"
	ReasonKernelOrderUnsafe        = "KERNEL_ORDER_UNSAFE"
)

// Diagnostic is a soft rejection. The instruction's state changes are
// discarded and a single LogErrorWithHintBytes32 is recorded in their place.
type Diagnostic struct {
	Method string
	Hash   common.Hash
	Reason string
}

func (d *Diagnostic) Error() string {
	return fmt.Sprintf("%s: %s (%s)", d.Method, d.Reason, d.Hash.Hex())
}

// Event converts the diagnostic into its log record.
func (d *Diagnostic) Event() Event {
	return NewErrorWithHint(d.Method, d.Hash, d.Reason)
}

func Reject(method string, hash common.Hash, reason string) *Diagnostic {
	return &Diagnostic{Method: method, Hash: hash, Reason: reason}
}

// AsDiagnostic unwraps err into a Diagnostic if it is one.
func AsDiagnostic(err error) (*Diagnostic, bool) {
	var d *Diagnostic
	if errors.As(err, &d) {
		return d, true
	}
	return nil, false
}
