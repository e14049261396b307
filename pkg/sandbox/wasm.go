// Package sandbox runs the kernel's sandboxed wasm programs: workflow
// modules and pure capability enforcers. Every module is addressed by
// its content hash and executed with wazero under a deny-by-default WASI
// configuration — no filesystem, no network, no ambient clock or
// randomness — with two call conventions on top of one Invoke: reducer
// step and enforcer check.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/aoscore/aos/pkg/codec"
	"github.com/aoscore/aos/pkg/store"
)

// Config bounds sandbox resource usage.
type Config struct {
	MemoryLimitBytes int64
	CPUTimeLimit     time.Duration
}

// Runner executes wasm modules resolved from a CAS by their content
// hash, caching compiled modules across invocations (compilation is the
// expensive step; instantiation is cheap and happens per call).
type Runner struct {
	runtime wazero.Runtime
	cas     store.CAS
	limits  Config

	mu       sync.Mutex
	compiled map[codec.Hash]wazero.CompiledModule
}

// NewRunner creates a Runner with a fresh wazero runtime under the given
// resource limits, backed by cas for module bytecode lookup.
func NewRunner(ctx context.Context, cas store.CAS, limits Config) (*Runner, error) {
	cfg := wazero.NewRuntimeConfig()
	if limits.MemoryLimitBytes > 0 {
		pages := uint32(limits.MemoryLimitBytes / (64 * 1024))
		if pages == 0 {
			pages = 1
		}
		cfg = cfg.WithMemoryLimitPages(pages)
	}

	r := wazero.NewRuntimeWithConfig(ctx, cfg)
	wasi_snapshot_preview1.MustInstantiate(ctx, r)

	return &Runner{
		runtime:  r,
		cas:      cas,
		limits:   limits,
		compiled: make(map[codec.Hash]wazero.CompiledModule),
	}, nil
}

// Close releases the wazero runtime and all compiled modules.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}

// Invoke runs the module stored at wasmHash, feeding it input on stdin
// and returning whatever it writes to stdout. Every call gets a fresh
// module instance with its own memory; NO filesystem, network, env, or
// non-deterministic clock/rand source is ever wired in.
func (r *Runner) Invoke(ctx context.Context, wasmHash codec.Hash, input []byte) ([]byte, error) {
	if r.limits.CPUTimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.limits.CPUTimeLimit)
		defer cancel()
	}

	compiled, err := r.compiledModule(ctx, wasmHash)
	if err != nil {
		return nil, err
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStartFunctions("_start").
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr)
	// Deliberately no WithFSConfig, WithSysNanotime, WithRandSource,
	// WithEnv — the sandbox has no ambient authority.

	mod, err := r.runtime.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("sandbox: module %s timed out: %w", wasmHash, ctx.Err())
		}
		return nil, fmt.Errorf("sandbox: instantiate %s: %w", wasmHash, err)
	}
	defer func() { _ = mod.Close(ctx) }()

	if stderr.Len() > 0 {
		return stdout.Bytes(), fmt.Errorf("sandbox: module %s wrote to stderr: %s", wasmHash, stderr.String())
	}
	return stdout.Bytes(), nil
}

func (r *Runner) compiledModule(ctx context.Context, wasmHash codec.Hash) (wazero.CompiledModule, error) {
	r.mu.Lock()
	if c, ok := r.compiled[wasmHash]; ok {
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()

	wasmBytes, err := r.cas.GetBlob(ctx, wasmHash)
	if err != nil {
		return nil, fmt.Errorf("sandbox: resolve module %s: %w", wasmHash, err)
	}

	c, err := r.runtime.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("sandbox: compile module %s: %w", wasmHash, err)
	}

	r.mu.Lock()
	r.compiled[wasmHash] = c
	r.mu.Unlock()
	return c, nil
}

// ReducerInput is the canonical-CBOR payload every workflow module call
// receives on stdin (spec §4.6): the routed event, the instance's opaque
// state bytes, and a deterministic call context.
type ReducerInput struct {
	Event    []byte        `cbor:"event"`
	State    []byte        `cbor:"state,omitempty"`
	Context  ReducerContext `cbor:"context"`
}

// ReducerContext carries the deterministic facts a module is allowed to
// observe: no wall-clock reads, no host randomness — only what the
// kernel derived for this step.
type ReducerContext struct {
	NowNs       int64  `cbor:"now_ns"`
	LogicalNowNs int64 `cbor:"logical_now_ns"`
	EntropySeed []byte `cbor:"entropy_seed"`
}

// ReducerOutput is the canonical-CBOR payload a workflow module writes
// to stdout.
type ReducerOutput struct {
	NewState     []byte          `cbor:"new_state,omitempty"`
	DomainEvents [][]byte        `cbor:"domain_events,omitempty"`
	Effects      []EffectRequest `cbor:"effects,omitempty"`
}

// EffectRequest is one effect a reducer asked the kernel to emit.
type EffectRequest struct {
	Kind   string `cbor:"kind"`
	Cap    string `cbor:"cap"`
	Params []byte `cbor:"params"`
}

// RunReducer invokes a workflow module and decodes its output.
func (r *Runner) RunReducer(ctx context.Context, wasmHash codec.Hash, in ReducerInput) (ReducerOutput, error) {
	inBytes, err := codec.Encode(in)
	if err != nil {
		return ReducerOutput{}, fmt.Errorf("sandbox: encode reducer input: %w", err)
	}
	outBytes, err := r.Invoke(ctx, wasmHash, inBytes)
	if err != nil {
		return ReducerOutput{}, err
	}
	var out ReducerOutput
	if err := codec.Decode(outBytes, &out); err != nil {
		return ReducerOutput{}, fmt.Errorf("sandbox: decode reducer output: %w", err)
	}
	return out, nil
}

// EnforcerInput is the payload a pure capability enforcer receives.
type EnforcerInput struct {
	CapType    string `cbor:"cap_type"`
	Params     []byte `cbor:"params"`
	IntentHash string `cbor:"intent_hash"`
	OriginKind string `cbor:"origin_kind"`
}

// EnforcerOutput is Allow, or a typed Deny with a code and message.
type EnforcerOutput struct {
	Allow   bool   `cbor:"allow"`
	Code    string `cbor:"code,omitempty"`
	Message string `cbor:"message,omitempty"`
}

// RunEnforcer invokes a pure capability enforcer module.
func (r *Runner) RunEnforcer(ctx context.Context, wasmHash codec.Hash, in EnforcerInput) (EnforcerOutput, error) {
	inBytes, err := codec.Encode(in)
	if err != nil {
		return EnforcerOutput{}, fmt.Errorf("sandbox: encode enforcer input: %w", err)
	}
	outBytes, err := r.Invoke(ctx, wasmHash, inBytes)
	if err != nil {
		return EnforcerOutput{}, err
	}
	var out EnforcerOutput
	if err := codec.Decode(outBytes, &out); err != nil {
		return EnforcerOutput{}, fmt.Errorf("sandbox: decode enforcer output: %w", err)
	}
	return out, nil
}
