package execution

import (
	"errors"
	"fmt"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

// Opcode is the interpreter backend's tagged bytecode instruction set,
// grounded on core/virtual_machine.go's LightVM opcodes and extended with
// the host-call opcodes the sandboxed execution engine's ABI needs.
type Opcode byte

const (
	OpPush Opcode = iota
	OpPop
	OpStore
	OpLoad
	OpLog
	OpCheckPolicy
	OpCheckResource
	OpRecordUsage
	OpGetCallerDID
	OpVerifySignature
	OpAnchorToDAG
	OpRet
)

// fuelCost is the per-opcode fuel price, mirroring GasCost's table shape.
func fuelCost(op Opcode) uint64 {
	switch op {
	case OpPush, OpPop:
		return 1
	case OpStore, OpLoad:
		return 5
	case OpLog:
		return 2
	case OpCheckPolicy, OpCheckResource, OpRecordUsage:
		return 10
	case OpGetCallerDID:
		return 2
	case OpVerifySignature:
		return 20
	case OpAnchorToDAG:
		return 15
	case OpRet:
		return 1
	default:
		return 1
	}
}

// Interpreter runs the engine's own tagged-opcode bytecode format: a
// fuel-metered stack machine with host-call opcodes, used for modules that
// are not WebAssembly (wasmer handles those; see wasm.go).
type Interpreter struct{}

// Outcome is the result of a single Execute call, independent of backend.
type Outcome struct {
	Success    bool
	ReturnData []byte
	Logs       []string
	Error      string
	FuelUsed   uint64
}

// Execute runs code as the interpreter's bytecode format against host,
// metering fuel via meter and reading/writing a private LinearMemory.
func (Interpreter) Execute(code []byte, meter *FuelMeter, host *HostContext) (Outcome, error) {
	mem := NewLinearMemory()
	stack := make([][]byte, 0, 16)
	pc := 0

	push := func(d []byte) { stack = append(stack, d) }
	pop := func() ([]byte, error) {
		if len(stack) == 0 {
			return nil, errors.New("execution: stack underflow")
		}
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v, nil
	}

	fail := func(err error) (Outcome, error) {
		return Outcome{Success: false, Error: err.Error(), Logs: host.Logs(), FuelUsed: meter.Used()}, nil
	}

	for pc < len(code) {
		op := Opcode(code[pc])
		pc++
		if err := meter.Consume(fuelCost(op)); err != nil {
			return fail(err)
		}

		switch op {
		case OpPush:
			if pc >= len(code) {
				return fail(errors.New("execution: missing length byte"))
			}
			l := int(code[pc])
			pc++
			if pc+l > len(code) {
				return fail(errors.New("execution: push out of bounds"))
			}
			push(code[pc : pc+l])
			pc += l

		case OpPop:
			if _, err := pop(); err != nil {
				return fail(err)
			}

		case OpStore:
			val, err := pop()
			if err != nil {
				return fail(err)
			}
			key, err := pop()
			if err != nil {
				return fail(err)
			}
			offset := bytesToOffset(key)
			mem.Write(offset, val)

		case OpLoad:
			key, err := pop()
			if err != nil {
				return fail(err)
			}
			lenBytes, err := pop()
			if err != nil {
				return fail(err)
			}
			offset := bytesToOffset(key)
			push(mem.Read(offset, bytesToOffset(lenBytes)))

		case OpLog:
			msg, err := pop()
			if err != nil {
				return fail(err)
			}
			host.LogMessage(string(msg))

		case OpCheckPolicy:
			did, err := pop()
			if err != nil {
				return fail(err)
			}
			action, err := pop()
			if err != nil {
				return fail(err)
			}
			scopeID, err := pop()
			if err != nil {
				return fail(err)
			}
			scopeType, err := pop()
			if err != nil {
				return fail(err)
			}
			errCode := host.CheckPolicyAuthorization(string(scopeType), string(scopeID), string(action), string(did))
			push([]byte{byte(errCode)})

		case OpCheckResource:
			amount, err := pop()
			if err != nil {
				return fail(err)
			}
			resourceType, err := pop()
			if err != nil {
				return fail(err)
			}
			errCode := host.CheckResourceAuthorization(string(resourceType), bytesToOffset(amount))
			push([]byte{byte(errCode)})

		case OpRecordUsage:
			amount, err := pop()
			if err != nil {
				return fail(err)
			}
			resourceType, err := pop()
			if err != nil {
				return fail(err)
			}
			errCode := host.RecordResourceUsage(string(resourceType), bytesToOffset(amount))
			push([]byte{byte(errCode)})

		case OpGetCallerDID:
			push([]byte(host.GetCallerDID()))

		case OpVerifySignature:
			sig, err := pop()
			if err != nil {
				return fail(err)
			}
			data, err := pop()
			if err != nil {
				return fail(err)
			}
			did, err := pop()
			if err != nil {
				return fail(err)
			}
			ok := host.VerifySignature(fedid.DID(did), data, sig)
			result := byte(0)
			if ok {
				result = 1
			}
			push([]byte{result})

		case OpAnchorToDAG:
			cidBytes, err := pop()
			if err != nil {
				return fail(err)
			}
			c, err := cid.FromBytes(cidBytes)
			if err != nil {
				return fail(err)
			}
			host.AnchorToDAG(c)

		case OpRet:
			rd, _ := pop()
			return Outcome{Success: true, ReturnData: rd, Logs: host.Logs(), FuelUsed: meter.Used()}, nil

		default:
			return fail(fmt.Errorf("execution: unknown opcode 0x%02x", op))
		}
	}
	return Outcome{Success: true, Logs: host.Logs(), FuelUsed: meter.Used()}, nil
}

func bytesToOffset(b []byte) uint64 {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v
}
