package execution

import (
	"testing"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

func newHostContext(t *testing.T, reg *authz.Registry) (*HostContext, fedid.DID) {
	t.Helper()
	id, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	if reg == nil {
		reg = authz.NewRegistry(nil)
	}
	return &HostContext{CallerDID: id.DID(), ScopeID: "coop-a", Policy: reg}, id.DID()
}

func TestInterpreterPushLogRet(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(100)

	code := []byte{
		byte(OpPush), 2, 'h', 'i',
		byte(OpLog),
		byte(OpPush), 3, 'r', 'e', 't',
		byte(OpRet),
	}

	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got failure: %s", out.Error)
	}
	if string(out.ReturnData) != "ret" {
		t.Fatalf("expected return data %q, got %q", "ret", out.ReturnData)
	}
	if len(out.Logs) != 1 || out.Logs[0] != "hi" {
		t.Fatalf("expected log [hi], got %v", out.Logs)
	}
	if out.FuelUsed == 0 {
		t.Fatal("expected nonzero fuel usage")
	}
}

func TestInterpreterStoreLoad(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(100)

	code := []byte{
		byte(OpPush), 1, 0x00, // key
		byte(OpPush), 2, 'h', 'i', // val
		byte(OpStore),
		byte(OpPush), 1, 2, // length
		byte(OpPush), 1, 0x00, // key
		byte(OpLoad),
		byte(OpRet),
	}

	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got failure: %s", out.Error)
	}
	if string(out.ReturnData) != "hi" {
		t.Fatalf("expected loaded value %q, got %q", "hi", out.ReturnData)
	}
}

func TestInterpreterStackUnderflow(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(100)
	code := []byte{byte(OpPop)}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure on stack underflow")
	}
}

func TestInterpreterFuelExhaustion(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(1)
	code := []byte{
		byte(OpPush), 1, 'a',
		byte(OpStore), // would cost more fuel than remains after a non-trivial push is accounted
	}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure from fuel exhaustion")
	}
}

func TestInterpreterCheckPolicyOpcode(t *testing.T) {
	reg := authz.NewRegistry(nil)
	host, did := newHostContext(t, reg)
	reg.SetPolicy(authz.ScopeConfig{
		ScopeID: "coop-a",
		Rules:   []authz.Rule{{Action: "do_thing", AllowedDIDs: []fedid.DID{did}}},
	})
	meter := NewFuelMeter(100)

	// push order scopeType, scopeID, action, did (all empty but action fall
	// back to the host's own ScopeID/CallerDID).
	code := []byte{
		byte(OpPush), 0,
		byte(OpPush), 0,
		byte(OpPush), 8, 'd', 'o', '_', 't', 'h', 'i', 'n', 'g',
		byte(OpPush), 0,
		byte(OpCheckPolicy),
		byte(OpRet),
	}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got failure: %s", out.Error)
	}
	if len(out.ReturnData) != 1 || out.ReturnData[0] != 0 {
		t.Fatalf("expected authorized policy check to return code 0, got %v", out.ReturnData)
	}
}

func TestInterpreterCheckResourceAndRecordUsageOpcodes(t *testing.T) {
	host, _ := newHostContext(t, nil)
	host.Resources = &stubResources{}
	meter := NewFuelMeter(100)

	code := []byte{
		byte(OpPush), 12, 'c', 'o', 'm', 'p', 'u', 't', 'e', '_', 'u', 'n', 'i', 't',
		byte(OpPush), 1, 5,
		byte(OpCheckResource),
		byte(OpRet),
	}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || len(out.ReturnData) != 1 || out.ReturnData[0] != 0 {
		t.Fatalf("expected OpCheckResource to return code 0, got success=%v data=%v", out.Success, out.ReturnData)
	}

	code = []byte{
		byte(OpPush), 12, 'c', 'o', 'm', 'p', 'u', 't', 'e', '_', 'u', 'n', 'i', 't',
		byte(OpPush), 1, 5,
		byte(OpRecordUsage),
		byte(OpRet),
	}
	out, err = Interpreter{}.Execute(code, NewFuelMeter(100), host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || len(out.ReturnData) != 1 || out.ReturnData[0] != 0 {
		t.Fatalf("expected OpRecordUsage to return code 0, got success=%v data=%v", out.Success, out.ReturnData)
	}
}

func TestInterpreterGetCallerDIDOpcode(t *testing.T) {
	host, did := newHostContext(t, nil)
	meter := NewFuelMeter(100)
	code := []byte{byte(OpGetCallerDID), byte(OpRet)}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || string(out.ReturnData) != string(did) {
		t.Fatalf("expected OpGetCallerDID to return %q, got %q (success=%v)", did, out.ReturnData, out.Success)
	}
}

func TestInterpreterVerifySignatureOpcode(t *testing.T) {
	id, err := fedid.New()
	if err != nil {
		t.Fatalf("fedid.New: %v", err)
	}
	host, _ := newHostContext(t, nil)
	host.Resolver = fedid.StaticResolver{id.DID(): id.PublicKey()}
	meter := NewFuelMeter(1000)

	msg := []byte("payload")
	sig := id.Sign(msg)

	code := []byte{
		byte(OpPush), byte(len(id.DID())),
	}
	code = append(code, []byte(id.DID())...)
	code = append(code, byte(OpPush), byte(len(msg)))
	code = append(code, msg...)
	code = append(code, byte(OpPush), byte(len(sig)))
	code = append(code, sig...)
	code = append(code, byte(OpVerifySignature), byte(OpRet))

	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success || len(out.ReturnData) != 1 || out.ReturnData[0] != 1 {
		t.Fatalf("expected valid signature to verify, got success=%v data=%v", out.Success, out.ReturnData)
	}
}

func TestInterpreterAnchorToDAGOpcode(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(100)

	c, err := cid.Sum(cid.CodecRaw, []byte("anchor me"))
	if err != nil {
		t.Fatalf("cid.Sum: %v", err)
	}
	raw := c.Bytes()

	code := []byte{byte(OpPush), byte(len(raw))}
	code = append(code, raw...)
	code = append(code, byte(OpAnchorToDAG), byte(OpRet))

	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !out.Success {
		t.Fatalf("expected success, got failure: %s", out.Error)
	}
	anchored := host.AnchoredCids()
	if len(anchored) != 1 || !anchored[0].Equal(c) {
		t.Fatalf("expected anchored cid to be recorded, got %v", anchored)
	}
}

func TestInterpreterUnknownOpcode(t *testing.T) {
	host, _ := newHostContext(t, nil)
	meter := NewFuelMeter(100)
	code := []byte{0x7f}
	out, err := Interpreter{}.Execute(code, meter, host)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out.Success {
		t.Fatal("expected failure for unknown opcode")
	}
}
