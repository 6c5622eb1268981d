// Command coinctl prepares coins for a ccr contract and builds the signed
// parameters wallets hand to a sponsor.
//
//	coinctl seeds   -n 10 -amount 1000 -seeds coin-seeds.json -input sc-input.json
//	coinctl sign    -seed <base58> -account <address> [-node URL]
//	coinctl permit  -key key.pem -seed <base58> -contract "<0,0>" [-expires 1h] [-node URL|mdns]
//	coinctl check   -seed <base58> -node URL
//	coinctl keygen  -out key.pem
//	coinctl sponsors [-contract "<0,0>"] [-wait 3s]
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"coinredeem.mini/ccr/internal/codec"
	"coinredeem.mini/ccr/internal/config"
	"coinredeem.mini/ccr/internal/contract"
	"coinredeem.mini/ccr/internal/discovery"
	"coinredeem.mini/ccr/internal/identity"
	"coinredeem.mini/ccr/internal/types"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: coinctl <seeds|sign|permit|check|keygen|sponsors> [flags]")
	os.Exit(2)
}

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		usage()
	}
	args := os.Args[2:]
	switch os.Args[1] {
	case "seeds":
		runSeeds(args)
	case "sign":
		runSign(args)
	case "permit":
		runPermit(args)
	case "check":
		runCheck(args)
	case "keygen":
		runKeygen(args)
	case "sponsors":
		runSponsors(args)
	default:
		usage()
	}
}

func runSeeds(args []string) {
	var (
		n         int
		amount    string
		seedsFile string
		inputFile string
	)
	fs := flag.NewFlagSet("seeds", flag.ExitOnError)
	fs.IntVar(&n, "n", 10, "Number of coins to generate")
	fs.StringVar(&amount, "amount", "1000", "Amount of each coin in CCD (up to 6 decimals)")
	fs.StringVar(&seedsFile, "seeds", "coin-seeds.json", "Output file for the base58 coin seeds")
	fs.StringVar(&inputFile, "input", "sc-input.json", "Output file for the contract init/issue parameter")
	fs.Parse(args)

	if n < 1 {
		log.Fatal("need at least one coin")
	}
	value, err := parseCCD(amount)
	if err != nil {
		log.Fatalf("parse amount: %v", err)
	}

	seeds, list, err := generateCoins(n, value)
	if err != nil {
		log.Fatalf("generate coins: %v", err)
	}
	if err := writeJSON(seedsFile, seeds); err != nil {
		log.Fatalf("write seeds: %v", err)
	}
	if err := writeJSON(inputFile, list); err != nil {
		log.Fatalf("write contract input: %v", err)
	}
	log.Printf("Wrote %d coins worth %s in total to %s and %s", n, list.Total(), seedsFile, inputFile)
}

// generateCoins draws n fresh coin keys of value each.
func generateCoins(n int, value types.Amount) ([]string, types.CoinList, error) {
	seeds := make([]string, 0, n)
	list := types.CoinList{Coins: make([]types.CoinEntry, 0, n)}
	for i := 0; i < n; i++ {
		k, err := identity.GenerateCoinKey()
		if err != nil {
			return nil, types.CoinList{}, err
		}
		seeds = append(seeds, k.Seed())
		list.Coins = append(list.Coins, types.CoinEntry{PublicKey: k.PublicKey(), Amount: value})
	}
	return seeds, list, nil
}

func runSign(args []string) {
	var seed, account, node string
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	fs.StringVar(&seed, "seed", "", "Base58 coin seed")
	fs.StringVar(&account, "account", "", "Receiving account address")
	fs.StringVar(&node, "node", "", "Submit the redeem to this sponsor API instead of printing it")
	fs.Parse(args)

	coin, err := identity.ParseCoinSeed(seed)
	if err != nil {
		log.Fatalf("coin seed: %v", err)
	}
	to, err := types.ParseAccountAddress(account)
	if err != nil {
		log.Fatalf("account: %v", err)
	}
	param := coin.RedeemParam(to)
	if node == "" {
		printJSON(param)
		return
	}
	if err := post(node+"/api/redeem", param); err != nil {
		log.Fatalf("submit redeem: %v", err)
	}
}

func runPermit(args []string) {
	var (
		keyFile  string
		seed     string
		addr     string
		nonce    uint64
		expires  time.Duration
		node     string
		waitMDNS time.Duration
	)
	fs := flag.NewFlagSet("permit", flag.ExitOnError)
	fs.StringVar(&keyFile, "key", "ccr_key.pem", "PEM key of the account that signs the permit")
	fs.StringVar(&seed, "seed", "", "Base58 coin seed to redeem")
	fs.StringVar(&addr, "contract", "<0,0>", "Contract address as <index,subindex>")
	fs.Uint64Var(&nonce, "nonce", 0, "Permit nonce")
	fs.DurationVar(&expires, "expires", time.Hour, "How long the permit stays valid")
	fs.StringVar(&node, "node", "", "Submit to this sponsor API, or \"mdns\" to find one on the LAN")
	fs.DurationVar(&waitMDNS, "wait", 3*time.Second, "How long to browse when -node is mdns")
	fs.Parse(args)

	id, err := identity.LoadIdentity(keyFile)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	coin, err := identity.ParseCoinSeed(seed)
	if err != nil {
		log.Fatalf("coin seed: %v", err)
	}
	ca, err := parseContract(addr)
	if err != nil {
		log.Fatalf("contract: %v", err)
	}

	param := buildPermit(id, coin, ca, nonce, time.Now().Add(expires))
	switch node {
	case "":
		printJSON(param)
		return
	case "mdns":
		node, err = findSponsor(waitMDNS, ca)
		if err != nil {
			log.Fatalf("find sponsor: %v", err)
		}
		log.Printf("Using sponsor %s", node)
	}
	if err := post(node+"/api/permit", param); err != nil {
		log.Fatalf("submit permit: %v", err)
	}
}

// buildPermit signs a permit that redeems coin to the signing account.
func buildPermit(id *identity.Identity, coin *identity.CoinKey, ca types.ContractAddress, nonce uint64, expiry time.Time) types.PermitParam {
	return id.SignPermit(types.PermitMessage{
		ContractAddress: ca,
		Nonce:           nonce,
		Timestamp:       types.TimestampFromTime(expiry),
		EntryPoint:      contract.EntryRedeem,
		Payload:         codec.EncodeRedeemParam(coin.RedeemParam(id.Address())),
	})
}

func runCheck(args []string) {
	var seed, node string
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	fs.StringVar(&seed, "seed", "", "Base58 coin seed")
	fs.StringVar(&node, "node", "http://localhost:8080", "Sponsor API to ask")
	fs.Parse(args)

	coin, err := identity.ParseCoinSeed(seed)
	if err != nil {
		log.Fatalf("coin seed: %v", err)
	}
	resp, err := http.Get(node + "/api/coins/" + coin.PublicKey().String())
	if err != nil {
		log.Fatalf("query coin: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Fatalf("query coin: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
}

func runKeygen(args []string) {
	var out string
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	fs.StringVar(&out, "out", "ccr_key.pem", "Where to write the PEM key")
	fs.Parse(args)

	if _, err := os.Stat(out); err == nil {
		log.Fatalf("%s already exists", out)
	}
	id, err := identity.LoadOrCreateIdentity(out)
	if err != nil {
		log.Fatalf("create key: %v", err)
	}
	fmt.Printf("address    %s\n", id.Address())
	fmt.Printf("public key %s\n", id.Key())
}

func runSponsors(args []string) {
	var addr, service string
	var wait time.Duration
	fs := flag.NewFlagSet("sponsors", flag.ExitOnError)
	fs.StringVar(&addr, "contract", "", "Only list sponsors of this contract")
	fs.StringVar(&service, "service", config.Defaults().MDNSServiceName, "mDNS service name")
	fs.DurationVar(&wait, "wait", 3*time.Second, "How long to browse")
	fs.Parse(args)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	peers, err := discovery.Browse(ctx, service)
	if err != nil {
		log.Fatalf("browse: %v", err)
	}
	for _, p := range peers {
		if addr != "" && p.Contract != addr {
			continue
		}
		fmt.Printf("%-24s %-10s %-10s %s\n", p.Instance, p.Mode, p.Contract, p.URL())
	}
}

func findSponsor(wait time.Duration, ca types.ContractAddress) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	peers, err := discovery.Browse(ctx, config.Defaults().MDNSServiceName)
	if err != nil {
		return "", err
	}
	for _, p := range peers {
		if p.Contract == ca.String() && p.URL() != "" {
			return p.URL(), nil
		}
	}
	return "", errors.Errorf("no sponsor for %s answered within %s", ca, wait)
}

// parseContract accepts "<index,subindex>", "index,subindex" or "index".
func parseContract(s string) (types.ContractAddress, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "<"), ">")
	index, sub, hasSub := strings.Cut(s, ",")
	var ca types.ContractAddress
	var err error
	if ca.Index, err = strconv.ParseUint(strings.TrimSpace(index), 10, 64); err != nil {
		return ca, errors.Wrapf(err, "contract index %q", index)
	}
	if hasSub {
		if ca.Subindex, err = strconv.ParseUint(strings.TrimSpace(sub), 10, 64); err != nil {
			return ca, errors.Wrapf(err, "contract subindex %q", sub)
		}
	}
	return ca, nil
}

// parseCCD parses a decimal CCD amount into microCCD.
func parseCCD(s string) (types.Amount, error) {
	whole, frac, _ := strings.Cut(strings.TrimSpace(s), ".")
	if len(frac) > 6 {
		return 0, errors.Errorf("%q has more than 6 decimals", s)
	}
	w, err := strconv.ParseUint(whole, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "amount %q", s)
	}
	var f uint64
	if frac != "" {
		if f, err = strconv.ParseUint(frac+strings.Repeat("0", 6-len(frac)), 10, 64); err != nil {
			return 0, errors.Wrapf(err, "amount %q", s)
		}
	}
	if w > (math.MaxUint64-f)/uint64(types.MicroCCDPerCCD) {
		return 0, errors.Errorf("amount %q overflows", s)
	}
	return types.Amount(w)*types.MicroCCDPerCCD + types.Amount(f), nil
}

func writeJSON(path string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(b, '\n'), 0o600)
}

func printJSON(v interface{}) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Fatalf("encode: %v", err)
	}
	fmt.Println(string(b))
}

func post(url string, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(body)))
	}
	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}
