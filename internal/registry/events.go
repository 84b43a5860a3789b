package registry

import "github.com/ethereum/go-ethereum/common"

type ProxyRegistered struct {
	Principal common.Address `json:"principal"`
	Proxy     common.Address `json:"proxy"`
}

func (ProxyRegistered) EventName() string { return "ProxyRegistered" }

type GrantStarted struct {
	Operator     common.Address `json:"operator"`
	PendingSince uint64         `json:"pending_since"`
	ReadyAt      uint64         `json:"ready_at"`
}

func (GrantStarted) EventName() string { return "GrantStarted" }

type OperatorAuthorized struct {
	Operator common.Address `json:"operator"`
	Initial  bool           `json:"initial,omitempty"`
}

func (OperatorAuthorized) EventName() string { return "OperatorAuthorized" }

type OperatorRevoked struct {
	Operator common.Address `json:"operator"`
}

func (OperatorRevoked) EventName() string { return "OperatorRevoked" }

type OwnershipTransferred struct {
	PreviousOwner common.Address `json:"previous_owner"`
	NewOwner      common.Address `json:"new_owner"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }
