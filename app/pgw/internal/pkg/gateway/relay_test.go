package gateway

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgw/app/pgw/internal/pkg/codec"
)

type sent struct {
	msg []byte
	to  net.Addr
}

type recorder struct {
	out []sent
}

func (r *recorder) Send(msg []byte, to net.Addr) error {
	r.out = append(r.out, sent{msg: msg, to: to})
	return nil
}

func TestRelay(t *testing.T) {
	ctx := context.Background()
	g := newGateway(nil)

	local, err := g.Attach(ctx, ue, sgw, 77)
	require.NoError(t, err)

	s5, sgi := &recorder{}, &recorder{}
	pdnAddr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9000}
	r := &Relay{Gateway: g, S5: s5, SGi: sgi, PDN: pdnAddr}

	inner := ipPacket(t, ue, pdn)
	b, err := codec.Encap(local, inner)
	require.NoError(t, err)

	require.NoError(t, r.SgwHandle(ctx, b, net.UDPAddrFromAddrPort(sgw)))
	require.Len(t, sgi.out, 1)
	assert.Equal(t, inner, sgi.out[0].msg)
	assert.Equal(t, pdnAddr, sgi.out[0].to)

	require.NoError(t, r.PdnHandle(ctx, ipPacket(t, pdn, ue), pdnAddr))
	require.Len(t, s5.out, 1)
	assert.Equal(t, sgw.String(), s5.out[0].to.String())

	assert.Error(t, r.SgwHandle(ctx, b, nil))
}
