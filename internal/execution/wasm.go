package execution

import (
	"errors"

	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/coopfed/fednet/internal/cid"
	"github.com/coopfed/fednet/internal/fedid"
)

// wasmEngine runs a WebAssembly module against host through wasmer-go's
// sandboxed instances, the spec's "untrusted bytecode runs in a memory-safe
// sandbox" guarantee, grounded on core/virtual_machine.go's HeavyVM.
type wasmEngine struct {
	engine *wasmer.Engine
}

func newWasmEngine() *wasmEngine {
	return &wasmEngine{engine: wasmer.NewEngine()}
}

// Execute compiles and runs code's `_start` export, with host functions
// bound under the "env" namespace implementing the execution engine's host
// ABI over host.
func (w *wasmEngine) Execute(code []byte, meter *FuelMeter, host *HostContext) (Outcome, error) {
	store := wasmer.NewStore(w.engine)
	module, err := wasmer.NewModule(store, code)
	if err != nil {
		return Outcome{}, err
	}

	imports, bind := registerHostFunctions(store, meter, host)

	instance, err := wasmer.NewInstance(module, imports)
	if err != nil {
		return Outcome{}, err
	}

	mem, err := instance.Exports.GetMemory("memory")
	if err != nil {
		return Outcome{}, errors.New("execution: wasm module missing memory export")
	}
	bind(mem)

	start, err := instance.Exports.GetFunction("_start")
	if err != nil {
		return Outcome{}, errors.New("execution: wasm module missing _start export")
	}

	_, callErr := start()
	out := Outcome{
		Success:  callErr == nil,
		Logs:     host.Logs(),
		FuelUsed: meter.Used(),
	}
	if callErr != nil {
		out.Error = callErr.Error()
	}
	return out, nil
}

// memAccessor adapts a live wasmer.Memory export to the bounds-checked
// read/write pair every host function uses. An out-of-range pointer makes
// read/write report false instead of panicking; host_log_message then
// returns an error (trapping the module) and the other host functions
// return an error code. A module with no memory export is rejected by
// Execute before any host function can run.
type memAccessor struct {
	mem *wasmer.Memory
}

func (m memAccessor) read(ptr, length int32) ([]byte, bool) {
	data := m.mem.Data()
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(data) {
		return nil, false
	}
	out := make([]byte, length)
	copy(out, data[ptr:int(ptr)+int(length)])
	return out, true
}

func (m memAccessor) write(ptr int32, payload []byte) bool {
	data := m.mem.Data()
	if ptr < 0 || int(ptr)+len(payload) > len(data) {
		return false
	}
	copy(data[ptr:], payload)
	return true
}

func i32ValueTypes(nIn, nOut int) *wasmer.FunctionType {
	in := make([]wasmer.ValueKind, nIn)
	for i := range in {
		in[i] = wasmer.ValueKind(wasmer.I32)
	}
	out := make([]wasmer.ValueKind, nOut)
	for i := range out {
		out[i] = wasmer.ValueKind(wasmer.I32)
	}
	return wasmer.NewFunctionType(wasmer.NewValueTypes(in...), wasmer.NewValueTypes(out...))
}

// registerHostFunctions binds the execution engine's host ABI table as wasm
// imports under the "env" namespace, the wasmer analogue of
// core/virtual_machine.go's registerHost. It returns the import object plus
// a bind function the caller must invoke with the instantiated module's
// memory export, since that memory does not exist until after
// wasmer.NewInstance returns.
func registerHostFunctions(store *wasmer.Store, meter *FuelMeter, host *HostContext) (*wasmer.ImportObject, func(*wasmer.Memory)) {
	imports := wasmer.NewImportObject()
	var access memAccessor

	hostConsumeFuel := wasmer.NewFunction(store, i32ValueTypes(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		cost := uint64(args[0].I32())
		if err := meter.Consume(cost); err != nil {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	hostLog := wasmer.NewFunction(store, i32ValueTypes(2, 0), func(args []wasmer.Value) ([]wasmer.Value, error) {
		ptr, length := args[0].I32(), args[1].I32()
		msg, ok := access.read(ptr, length)
		if !ok {
			return []wasmer.Value{}, errors.New("execution: host_log out of bounds")
		}
		host.LogMessage(string(msg))
		return []wasmer.Value{}, nil
	})

	// hostCheckPolicy takes four (ptr, len) pairs: scope_type, scope_id,
	// action, did, in that order.
	hostCheckPolicy := wasmer.NewFunction(store, i32ValueTypes(8, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		scopeType, ok := access.read(args[0].I32(), args[1].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		scopeID, ok := access.read(args[2].I32(), args[3].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		action, ok := access.read(args[4].I32(), args[5].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		did, ok := access.read(args[6].I32(), args[7].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		code := host.CheckPolicyAuthorization(string(scopeType), string(scopeID), string(action), string(did))
		return []wasmer.Value{wasmer.NewI32(code)}, nil
	})

	hostCheckResource := wasmer.NewFunction(store, i32ValueTypes(3, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		ptr, length, amount := args[0].I32(), args[1].I32(), uint64(uint32(args[2].I32()))
		resourceType, ok := access.read(ptr, length)
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(host.CheckResourceAuthorization(string(resourceType), amount))}, nil
	})

	hostRecordUsage := wasmer.NewFunction(store, i32ValueTypes(3, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		ptr, length, amount := args[0].I32(), args[1].I32(), uint64(uint32(args[2].I32()))
		resourceType, ok := access.read(ptr, length)
		if !ok {
			return []wasmer.Value{wasmer.NewI32(5)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(host.RecordResourceUsage(string(resourceType), amount))}, nil
	})

	hostGetCallerDID := wasmer.NewFunction(store, i32ValueTypes(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		dst := args[0].I32()
		did := []byte(host.GetCallerDID())
		if !access.write(dst, did) {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(did)))}, nil
	})

	hostGetError := wasmer.NewFunction(store, i32ValueTypes(1, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		dst := args[0].I32()
		msg := []byte(host.GetError())
		if !access.write(dst, msg) {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(int32(len(msg)))}, nil
	})

	hostClearError := wasmer.NewFunction(store, i32ValueTypes(0, 0), func(args []wasmer.Value) ([]wasmer.Value, error) {
		host.ClearError()
		return []wasmer.Value{}, nil
	})

	hostAnchorToDAG := wasmer.NewFunction(store, i32ValueTypes(2, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		ptr, length := args[0].I32(), args[1].I32()
		raw, ok := access.read(ptr, length)
		if !ok {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		c, err := cid.FromBytes(raw)
		if err != nil {
			host.SetError(err.Error())
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		host.AnchorToDAG(c)
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	// hostVerifySignature takes three (ptr, len) pairs: did, data, sig.
	hostVerifySignature := wasmer.NewFunction(store, i32ValueTypes(6, 1), func(args []wasmer.Value) ([]wasmer.Value, error) {
		did, ok := access.read(args[0].I32(), args[1].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		data, ok := access.read(args[2].I32(), args[3].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		sig, ok := access.read(args[4].I32(), args[5].I32())
		if !ok {
			return []wasmer.Value{wasmer.NewI32(-1)}, nil
		}
		if host.VerifySignature(fedid.DID(did), data, sig) {
			return []wasmer.Value{wasmer.NewI32(1)}, nil
		}
		return []wasmer.Value{wasmer.NewI32(0)}, nil
	})

	imports.Register("env", map[string]wasmer.IntoExtern{
		"host_consume_fuel":                 hostConsumeFuel,
		"host_log_message":                  hostLog,
		"host_check_policy_authorization":   hostCheckPolicy,
		"host_check_resource_authorization": hostCheckResource,
		"host_record_resource_usage":        hostRecordUsage,
		"host_get_caller_did_into_buffer":   hostGetCallerDID,
		"host_get_error":                    hostGetError,
		"host_clear_error":                  hostClearError,
		"host_anchor_to_dag":                hostAnchorToDAG,
		"host_verify_signature":             hostVerifySignature,
	})

	return imports, func(mem *wasmer.Memory) { access.mem = mem }
}
