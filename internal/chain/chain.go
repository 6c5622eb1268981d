// Package chain is the host the redeem contract runs on: accounts with
// balances and multi-credential keys, contract instances with their own
// balance and storage, and a slot time. Each call runs against one storage
// transaction; a call that fails leaves neither storage writes nor
// transfers behind, and a call that succeeds commits storage before any
// transfer is applied.
package chain

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/ledger"
	"coinredeem.mini/ccr/internal/metrics"
	"coinredeem.mini/ccr/internal/types"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrAccountExists     = errors.New("account already exists")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrContractNotFound  = errors.New("contract instance not found")
	ErrContractExists    = errors.New("contract instance already exists")
)

// Backends hands out the storage of each contract instance.
type Backends interface {
	Instance(addr types.ContractAddress) ledger.Backend
}

// MemoryBackends keeps every instance's storage in memory.
type MemoryBackends struct {
	mu        sync.Mutex
	instances map[types.ContractAddress]*ledger.MemoryBackend
}

func NewMemoryBackends() *MemoryBackends {
	return &MemoryBackends{instances: make(map[types.ContractAddress]*ledger.MemoryBackend)}
}

func (m *MemoryBackends) Instance(addr types.ContractAddress) ledger.Backend {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.instances[addr]
	if !ok {
		b = ledger.NewMemoryBackend()
		m.instances[addr] = b
	}
	return b
}

// ContractInfo describes a contract instance.
type ContractInfo struct {
	Address types.ContractAddress `json:"address"`
	Name    string                `json:"name"`
	Owner   types.AccountAddress  `json:"owner"`
	Balance types.Amount          `json:"balance"`
}

type instance struct {
	info    ContractInfo
	backend ledger.Backend
}

// Result is the outcome of a successful call.
type Result struct {
	Contract    types.ContractAddress `json:"contract"`
	EntryPoint  string                `json:"entry_point"`
	ReturnValue types.HexBytes        `json:"return_value"`
	Transfers   []Transfer            `json:"transfers"`
}

// Total is the sum of the call's transfers.
func (r Result) Total() types.Amount {
	var t types.Amount
	for _, tr := range r.Transfers {
		t += tr.Amount
	}
	return t
}

// Chain holds accounts and contract instances. Calls are serialized.
type Chain struct {
	mu        sync.Mutex
	accounts  map[types.AccountAddress]*Account
	instances map[types.ContractAddress]*instance
	nextIndex uint64
	clock     func() types.Timestamp
	backends  Backends

	log     slog.Logger
	metrics *metrics.Metrics
}

// New creates an empty chain whose slot time follows the wall clock until
// SetSlotTime is called. log and m may be nil.
func New(backends Backends, log slog.Logger, m *metrics.Metrics) *Chain {
	if log == nil {
		log = slog.Disabled
	}
	return &Chain{
		accounts:  make(map[types.AccountAddress]*Account),
		instances: make(map[types.ContractAddress]*instance),
		clock:     func() types.Timestamp { return types.TimestampFromTime(time.Now()) },
		backends:  backends,
		log:       log,
		metrics:   m,
	}
}

// SetSlotTime fixes the time calls observe, as a block does.
func (c *Chain) SetSlotTime(t types.Timestamp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = func() types.Timestamp { return t }
}

// UseClock makes calls observe the time returned by now.
func (c *Chain) UseClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clock = func() types.Timestamp { return types.TimestampFromTime(now()) }
}

func (c *Chain) SlotTime() types.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clock()
}

// CreateAccount adds an account. Existing addresses are refused.
func (c *Chain) CreateAccount(acct Account) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.accounts[acct.Address]; ok {
		return errors.Wrapf(ErrAccountExists, "create %s", acct.Address)
	}
	a := acct
	c.accounts[acct.Address] = &a
	c.log.Debugf("Created account %s with %s", acct.Address, acct.Balance)
	return nil
}

// Account returns a copy of the account at addr.
func (c *Chain) Account(addr types.AccountAddress) (Account, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[addr]
	if !ok {
		return Account{}, false
	}
	return *a, true
}

// Accounts lists all accounts ordered by address.
func (c *Chain) Accounts() []Account {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Account, 0, len(c.accounts))
	for _, a := range c.accounts {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		return string(out[i].Address[:]) < string(out[j].Address[:])
	})
	return out
}

// AccountHasKey reports whether key is one of the keys of addr.
func (c *Chain) AccountHasKey(addr types.AccountAddress, key types.PublicKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.accounts[addr]
	return ok && a.Keys.HasKey(key)
}

// Contract returns the instance at addr.
func (c *Chain) Contract(addr types.ContractAddress) (ContractInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	inst, ok := c.instances[addr]
	if !ok {
		return ContractInfo{}, false
	}
	return inst.info, true
}

// Contracts lists all instances by index.
func (c *Chain) Contracts() []ContractInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ContractInfo, 0, len(c.instances))
	for _, inst := range c.instances {
		out = append(out, inst.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address.Index < out[j].Address.Index })
	return out
}

// InitContract deploys a new instance at the next free index. The sender
// becomes admin and pays amount into the instance balance.
func (c *Chain) InitContract(ctx context.Context, p types.InitPayload) (types.ContractAddress, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	sender, ok := c.accounts[p.Sender]
	if !ok {
		return types.ContractAddress{}, errors.Wrapf(ErrAccountNotFound, "init sender %s", p.Sender)
	}
	if sender.Balance < p.Amount {
		return types.ContractAddress{}, errors.Wrapf(ErrInsufficientFunds, "init sender %s has %s", p.Sender, sender.Balance)
	}

	addr := types.ContractAddress{Index: c.nextIndex}
	backend := c.backends.Instance(addr)
	txn, err := backend.Begin(ctx)
	if err != nil {
		return addr, errors.Wrap(err, "begin init")
	}
	defer txn.Rollback()

	if _, err := contract.Init(initHost{param: p.Parameter, origin: p.Sender}, txn); err != nil {
		c.observe("init", err, start)
		return addr, err
	}
	if err := txn.Commit(); err != nil {
		return addr, errors.Wrap(err, "commit init")
	}

	sender.Balance -= p.Amount
	c.instances[addr] = &instance{
		info: ContractInfo{
			Address: addr,
			Name:    contract.Name,
			Owner:   p.Sender,
			Balance: p.Amount,
		},
		backend: backend,
	}
	c.nextIndex++
	c.observe("init", nil, start)
	c.log.Infof("Initialized %s at %s with %s", contract.Name, addr, p.Amount)
	return addr, nil
}

// AttachContract registers an instance whose storage already exists, as
// when a node restarts on a persistent store.
func (c *Chain) AttachContract(info ContractInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.instances[info.Address]; ok {
		return errors.Wrapf(ErrContractExists, "attach %s", info.Address)
	}
	if info.Name == "" {
		info.Name = contract.Name
	}
	c.instances[info.Address] = &instance{info: info, backend: c.backends.Instance(info.Address)}
	if info.Address.Index >= c.nextIndex {
		c.nextIndex = info.Address.Index + 1
	}
	c.log.Infof("Attached %s at %s with %s", info.Name, info.Address, info.Balance)
	return nil
}

// Update runs an entry point as a transaction. On error nothing changes;
// the error is a contract.Error when the contract rejected the call.
func (c *Chain) Update(ctx context.Context, p types.UpdatePayload) (Result, error) {
	return c.call(ctx, p, true)
}

// Invoke runs an entry point without keeping any of its effects. The sender
// need not exist.
func (c *Chain) Invoke(ctx context.Context, p types.UpdatePayload) (Result, error) {
	return c.call(ctx, p, false)
}

func (c *Chain) call(ctx context.Context, p types.UpdatePayload, persist bool) (Result, error) {
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{Contract: p.Contract, EntryPoint: p.EntryPoint}
	inst, ok := c.instances[p.Contract]
	if !ok {
		return res, errors.Wrapf(ErrContractNotFound, "call %s", p.Contract)
	}
	mutable, known := contract.Mutable(p.EntryPoint)
	if !known {
		return res, errors.Wrapf(contract.ErrUnknownEntrypoint, "%s.%s", contract.Name, p.EntryPoint)
	}
	if persist {
		if _, ok := c.accounts[p.Sender]; !ok {
			return res, errors.Wrapf(ErrAccountNotFound, "sender %s", p.Sender)
		}
	}

	txn, err := inst.backend.Begin(ctx)
	if err != nil {
		return res, errors.Wrap(err, "begin call")
	}
	defer txn.Rollback()

	host := &callHost{
		chain:  c,
		inst:   inst,
		param:  p.Parameter,
		sender: types.AccountSender(p.Sender),
		now:    c.clock(),
	}
	ret, err := contract.Receive(p.EntryPoint, host, ledger.Open(txn))
	if persist {
		c.observe(p.EntryPoint, err, start)
	}
	if err != nil {
		if _, isReject := contract.AsError(err); isReject {
			c.log.Debugf("%s.%s from %s rejected: %v", contract.Name, p.EntryPoint, p.Sender, err)
			return res, err
		}
		return res, errors.Wrapf(err, "%s.%s", contract.Name, p.EntryPoint)
	}
	res.ReturnValue = ret
	res.Transfers = host.staged

	if !persist || !mutable {
		return res, nil
	}
	if err := txn.Commit(); err != nil {
		return Result{Contract: p.Contract, EntryPoint: p.EntryPoint}, errors.Wrap(err, "commit call")
	}
	for _, t := range host.staged {
		inst.info.Balance -= t.Amount
		c.accounts[t.To].Balance += t.Amount
	}
	if total := res.Total(); total > 0 {
		c.metrics.ObserveRedeem(uint64(total))
		c.log.Infof("%s.%s paid %s from %s", contract.Name, p.EntryPoint, total, p.Contract)
	}
	return res, nil
}

func (c *Chain) observe(entrypoint string, err error, start time.Time) {
	reason := ""
	if err != nil {
		if rej, ok := contract.AsError(err); ok {
			reason = rej.Name()
		} else {
			reason = "failure"
		}
	}
	c.metrics.ObserveCall(entrypoint, reason, time.Since(start))
}
