// Package main is the entry point for a ccr node. It runs the redeem
// contract on a local chain backed by SQLite, or under Tendermint
// consensus, and serves the sponsor API in front of it.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"coinredeem.mini/ccr/internal/abci"
	"coinredeem.mini/ccr/internal/api"
	"coinredeem.mini/ccr/internal/chain"
	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/config"
	"coinredeem.mini/ccr/internal/discovery"
	"coinredeem.mini/ccr/internal/docs"
	"coinredeem.mini/ccr/internal/identity"
	"coinredeem.mini/ccr/internal/logger"
	"coinredeem.mini/ccr/internal/metrics"
	"coinredeem.mini/ccr/internal/store"
	"coinredeem.mini/ccr/internal/tendermint"
	"coinredeem.mini/ccr/internal/types"
	"coinredeem.mini/ccr/internal/web"
)

var mainLog = logger.Subsystem(logger.TagMain)

func main() {
	var (
		configFile  string
		restoreFile string
		runNode     bool
		tmHome      string
	)
	flag.StringVar(&configFile, "config", config.Path(), "Path to the JSON config file")
	flag.StringVar(&restoreFile, "restore", "", "Replace the contract store with this SQLite snapshot before starting")
	flag.BoolVar(&runNode, "run-node", false, "In tendermint mode, also start a local Tendermint node")
	flag.StringVar(&tmHome, "tmhome", tendermint.TendermintHome(), "Tendermint home directory for -run-node")
	flag.Parse()

	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	mainLog.Infof("ccr %s starting in %s mode", types.Version, cfg.Mode)

	operator, err := identity.LoadOrCreateIdentity(cfg.KeyFile)
	if err != nil {
		log.Fatalf("Failed to load operator key: %v", err)
	}
	mainLog.Infof("Sponsor account %s", operator.Address())

	port := resolvePort(cfg.Port)
	if err := ensurePortAvailable(port); err != nil {
		log.Fatalf("Port %d unavailable: %v", port, err)
	}

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
	}
	events := logger.New(cfg.EventBuffer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	n := &node{cfg: cfg, operator: operator, events: events, metrics: m}
	switch cfg.Mode {
	case config.ModeTendermint:
		err = n.startTendermint(ctx, g, runNode, tmHome)
	default:
		err = n.startLocal(ctx, restoreFile)
	}
	if err != nil {
		log.Fatalf("Failed to start %s node: %v", cfg.Mode, err)
	}
	defer n.close()

	var peers api.PeerSource
	if cfg.EnableMDNS {
		disc := discovery.NewService(cfg.MDNSServiceName, logger.Subsystem(logger.TagMDNS))
		contract := n.exec.Contract()
		err := disc.Start(ctx, discovery.Announcement{
			Port:     port,
			Mode:     cfg.Mode,
			Account:  operator.Address(),
			Contract: &contract,
		})
		if err != nil {
			mainLog.Warnf("mDNS disabled: %v", err)
		} else {
			defer disc.Stop()
			peers = disc
		}
	}

	svc := api.NewService(api.Options{
		Executor:      n.exec,
		Events:        events,
		Store:         n.store,
		BackupKeep:    cfg.BackupKeep,
		Peers:         peers,
		Docs:          docs.NewService(docs.Embedded()),
		OperatorToken: cfg.OperatorToken,
		Log:           logger.Subsystem(logger.TagAPI),
	})
	opts := web.Options{
		Port:    port,
		API:     svc,
		Exec:    n.exec,
		Metrics: m,
		Log:     logger.Subsystem(logger.TagWeb),
	}
	if n.store != nil {
		opts.Updates = n.store
	}
	server, err := web.NewServer(opts)
	if err != nil {
		log.Fatalf("Failed to initialize web server: %v", err)
	}
	g.Go(func() error { return server.Run(ctx) })

	if err := g.Wait(); err != nil {
		mainLog.Errorf("Exited: %v", err)
	}
	mainLog.Info("Shutting down...")
}

// node holds what a running mode needs torn down.
type node struct {
	cfg      *config.Config
	operator *identity.Identity
	events   *logger.Logger
	metrics  *metrics.Metrics

	exec  api.Executor
	store *store.Store
	abci  *tendermint.ABCIServer
}

// startLocal runs the contract on an in-process chain over the SQLite
// store. A store that already holds an instance is reattached; otherwise
// a new instance is initialized from the coins file.
func (n *node) startLocal(ctx context.Context, restoreFile string) error {
	st, err := store.NewStore(n.cfg.DatabaseFile, store.WithBackupDir(n.cfg.BackupDir))
	if err != nil {
		return err
	}
	n.store = st
	if restoreFile != "" {
		data, err := os.ReadFile(restoreFile)
		if err != nil {
			return errors.Wrap(err, "read snapshot")
		}
		backup, err := st.ImportSnapshot(data, n.cfg.BackupKeep)
		if err != nil {
			return err
		}
		mainLog.Infof("Restored %s; previous store kept at %s", restoreFile, backup)
	}

	c := chain.New(st, logger.Subsystem(logger.TagChain), n.metrics)
	if err := createAccounts(c, n.cfg.Genesis, n.operator, n.cfg.InitialBalance); err != nil {
		return err
	}
	addr, err := attachOrInit(ctx, c, st, n.cfg, n.operator.Address())
	if err != nil {
		return err
	}
	n.exec = api.NewLocalExecutor(c, addr, n.operator.Address())
	return nil
}

// createAccounts creates the genesis accounts and, unless listed among
// them, an operator account able to fund a new instance.
func createAccounts(c *chain.Chain, genesis []config.GenesisAccount, operator *identity.Identity, funding types.Amount) error {
	for _, g := range genesis {
		addr, err := g.GenesisAddress()
		if err != nil {
			return err
		}
		acct := chain.SingleKeyAccount(g.PublicKey, g.Balance)
		acct.Address = addr
		if err := c.CreateAccount(acct); err != nil {
			return errors.Wrapf(err, "genesis account %s", addr)
		}
	}
	if _, ok := c.Account(operator.Address()); ok {
		return nil
	}
	return c.CreateAccount(chain.SingleKeyAccount(operator.Key(), funding))
}

// attachOrInit returns the instance the node serves.
func attachOrInit(ctx context.Context, c *chain.Chain, st *store.Store, cfg *config.Config, operator types.AccountAddress) (types.ContractAddress, error) {
	existing, err := st.Instances()
	if err != nil {
		return types.ContractAddress{}, err
	}
	if len(existing) > 0 {
		for _, addr := range existing {
			balance, err := remainingBalance(ctx, st, addr, cfg.InitialBalance)
			if err != nil {
				return addr, err
			}
			if err := c.AttachContract(chain.ContractInfo{Address: addr, Owner: operator, Balance: balance}); err != nil {
				return addr, err
			}
		}
		if cfg.Contract != nil {
			return *cfg.Contract, nil
		}
		return existing[0], nil
	}

	coins, err := loadCoins(cfg.CoinsFile)
	if err != nil {
		return types.ContractAddress{}, err
	}
	return c.InitContract(ctx, types.InitPayload{
		Sender:    operator,
		Amount:    cfg.InitialBalance,
		Parameter: codec.EncodeCoinList(coins),
	})
}

// remainingBalance is the funding minus what redeemed coins paid out.
// Account balances are not persisted, so this is what a restarted
// instance can still pay.
func remainingBalance(ctx context.Context, st *store.Store, addr types.ContractAddress, funding types.Amount) (types.Amount, error) {
	txn, err := st.Instance(addr).Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer txn.Rollback()
	coins, err := txn.Coins()
	if err != nil {
		return 0, err
	}
	var paid types.Amount
	for _, c := range coins {
		if c.IsRedeemed {
			paid += c.Amount
		}
	}
	if paid >= funding {
		return 0, nil
	}
	return funding - paid, nil
}

// loadCoins reads a CoinList as written by `coinctl seeds`. A missing file
// means an instance without coins.
func loadCoins(path string) (types.CoinList, error) {
	var list types.CoinList
	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		mainLog.Warnf("Coins file %s not found, starting with no coins", path)
		return list, nil
	}
	if err != nil {
		return list, errors.Wrapf(err, "read coins %s", path)
	}
	if err := json.Unmarshal(b, &list); err != nil {
		return list, errors.Wrapf(err, "parse coins %s", path)
	}
	return list, nil
}

// startTendermint serves the chain over ABCI and submits calls through the
// node's RPC. Chain state lives in memory and is rebuilt by block replay.
func (n *node) startTendermint(ctx context.Context, g *errgroup.Group, runNode bool, tmHome string) error {
	c := chain.New(chain.NewMemoryBackends(), logger.Subsystem(logger.TagChain), n.metrics)
	var viewContract types.ContractAddress
	if n.cfg.Contract != nil {
		viewContract = *n.cfg.Contract
	}
	app := abci.NewABCIApplication(c, n.cfg.Genesis, viewContract, n.events, n.metrics, logger.Subsystem(logger.TagABCI))
	server, err := tendermint.NewABCIServer(app, &tendermint.Config{
		TendermintHome: tmHome,
		SocketAddress:  n.cfg.ABCIAddress,
	})
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	n.abci = server
	mainLog.Infof("ABCI server listening on %s", server.SocketPath())

	if runNode {
		if err := tendermint.InitTendermint(tmHome); err != nil {
			return err
		}
		cmd := tendermint.GetTendermintCommand(tmHome, n.cfg.ABCIAddress)
		if err := cmd.Start(); err != nil {
			return errors.Wrap(err, "start Tendermint node")
		}
		g.Go(func() error { return superviseNode(ctx, cmd) })
	}

	client := tendermint.NewClient(n.cfg.RPCURL, n.operator)
	addr := viewContract
	if n.cfg.Contract == nil {
		coins, err := loadCoins(n.cfg.CoinsFile)
		if err != nil {
			return err
		}
		if addr, err = deployContract(ctx, client, n.operator.Address(), n.cfg.InitialBalance, coins); err != nil {
			return err
		}
		mainLog.Infof("Deployed contract at %s; set \"contract\" in the config to reuse it", addr)
	}
	n.exec = api.NewConsensusExecutor(client, addr, n.operator.Address())
	return nil
}

// deployContract submits an init transaction, retrying while the
// Tendermint node comes up.
func deployContract(ctx context.Context, client *tendermint.Client, sender types.AccountAddress, amount types.Amount, coins types.CoinList) (types.ContractAddress, error) {
	payload := types.InitPayload{Sender: sender, Amount: amount, Parameter: codec.EncodeCoinList(coins)}
	backoff := time.Second
	for {
		res, err := client.Submit(ctx, types.TxInitContract, payload)
		if err == nil {
			var out chain.Result
			if err := json.Unmarshal(res.Data, &out); err != nil {
				return types.ContractAddress{}, errors.Wrap(err, "decode init result")
			}
			return out.Contract, nil
		}
		if errors.Is(err, tendermint.ErrTxFailed) {
			return types.ContractAddress{}, err
		}
		mainLog.Debugf("Init not submitted yet: %v", err)
		select {
		case <-ctx.Done():
			return types.ContractAddress{}, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 10*time.Second {
			backoff *= 2
		}
	}
}

// superviseNode stops the Tendermint process with the node.
func superviseNode(ctx context.Context, cmd *exec.Cmd) error {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		return errors.Wrap(err, "tendermint node exited")
	case <-ctx.Done():
		cmd.Process.Signal(syscall.SIGTERM)
		<-done
		return nil
	}
}

func (n *node) close() {
	if n.abci != nil {
		if err := n.abci.Stop(); err != nil {
			mainLog.Warnf("%v", err)
		}
	}
	if n.store != nil {
		if err := n.store.Close(); err != nil {
			mainLog.Warnf("Close store: %v", err)
		}
	}
}

func resolvePort(defaultPort int) int {
	portStr := os.Getenv("PORT")
	if portStr == "" {
		return defaultPort
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		mainLog.Warnf("Invalid PORT value %q, using %d", portStr, defaultPort)
		return defaultPort
	}

	return port
}

func ensurePortAvailable(port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return listener.Close()
}
