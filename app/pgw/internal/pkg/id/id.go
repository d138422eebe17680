package id

import (
	"fmt"
	"net/netip"
)

// TEID is the local tunnel endpoint identifier handed out to S-GW peers.
type TEID uint32

// FlowKey identifies traffic arriving from outside the EPC. A zero port and
// protocol make the key per-UE rather than per-flow.
type FlowKey struct {
	UE       netip.Addr
	Port     uint16
	Protocol uint8
}

func (t TEID) String() string {
	return fmt.Sprintf("T%d", t)
}

func UEKey(ue netip.Addr) FlowKey {
	return FlowKey{UE: ue.Unmap()}
}

func (k FlowKey) String() string {
	if k.Port == 0 && k.Protocol == 0 {
		return fmt.Sprintf("IP%s", k.UE)
	}
	return fmt.Sprintf("IP%s/%d:%d", k.UE, k.Protocol, k.Port)
}
