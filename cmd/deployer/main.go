// Command deployer rolls a ccr build out to a set of validator or sponsor
// hosts over ssh and rsync, restarts the node and waits for its health
// endpoint.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// deployment is what every host receives.
type deployment struct {
	user      string
	keyPath   string
	binary    string
	files     []string
	remoteDir string
	port      int
}

type hostResult struct {
	host     string
	duration time.Duration
	err      error
}

func main() {
	var (
		hostsFlag    string
		hostsFile    string
		filesFlag    string
		parallelFlag int
		skipBuild    bool
		d            deployment
	)

	homeDir, _ := os.UserHomeDir()

	flag.StringVar(&hostsFlag, "hosts", "", "Comma-separated list of hosts")
	flag.StringVar(&hostsFile, "hosts-file", "", "File with one host per line, # starts a comment")
	flag.StringVar(&d.user, "user", "ccr", "Remote user")
	flag.StringVar(&d.keyPath, "key", filepath.Join(homeDir, ".ssh", "id_ed25519"), "Path to SSH private key")
	flag.StringVar(&d.binary, "binary", "ccr", "Path for the compiled binary")
	flag.StringVar(&filesFlag, "files", "ccr-config.json,sc-input.json", "Comma-separated files shipped next to the binary")
	flag.StringVar(&d.remoteDir, "remote-dir", "/home/ccr/ccr", "Remote deployment directory")
	flag.IntVar(&d.port, "port", 8080, "Sponsor API port checked after start")
	flag.IntVar(&parallelFlag, "parallel", 2, "Number of hosts to deploy concurrently")
	flag.BoolVar(&skipBuild, "skip-build", false, "Skip rebuilding the binary before deployment")
	flag.Parse()

	hostList := splitList(hostsFlag)
	if hostsFile != "" {
		fromFile, err := readHostsFile(hostsFile)
		if err != nil {
			log.Fatalf("read hosts file: %v", err)
		}
		hostList = append(hostList, fromFile...)
	}
	if len(hostList) == 0 {
		log.Fatal("no hosts specified")
	}
	parallelFlag = max(1, min(parallelFlag, len(hostList)))

	for _, tool := range []string{"rsync", "ssh", "go"} {
		if _, err := exec.LookPath(tool); err != nil {
			log.Fatalf("required tool %q not found in PATH", tool)
		}
	}
	d.files = splitList(filesFlag)
	for _, f := range append([]string{d.keyPath}, d.files...) {
		if _, err := os.Stat(f); err != nil {
			log.Fatalf("not accessible: %v", err)
		}
	}

	binaryPath, err := filepath.Abs(d.binary)
	if err != nil {
		log.Fatalf("determine binary path: %v", err)
	}
	d.binary = binaryPath

	if !skipBuild {
		if err := goRun("run", "./cmd/docgen"); err != nil {
			log.Fatalf("generate docs: %v", err)
		}
		log.Printf("Building ccr -> %s", binaryPath)
		if err := goRun("build", "-o", binaryPath, "."); err != nil {
			log.Fatalf("build binary: %v", err)
		}
	} else {
		log.Printf("Skipping build step (requested via -skip-build)")
	}

	results := runDeployments(hostList, d, parallelFlag)

	var failed int
	for _, r := range results {
		if r.err != nil {
			failed++
			log.Printf("[%s] deployment failed after %s: %v", r.host, r.duration.Truncate(time.Millisecond), r.err)
		} else {
			log.Printf("[%s] deployment completed in %s", r.host, r.duration.Truncate(time.Millisecond))
		}
	}
	if failed > 0 {
		log.Fatalf("deployment failed on %d host(s)", failed)
	}
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func readHostsFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var hosts []string
	for _, line := range strings.Split(string(b), "\n") {
		line, _, _ = strings.Cut(line, "#")
		if h := strings.TrimSpace(line); h != "" {
			hosts = append(hosts, h)
		}
	}
	return hosts, nil
}

func goRun(args ...string) error {
	cmd := exec.Command("go", args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func runDeployments(hosts []string, d deployment, parallel int) []hostResult {
	var (
		wg      sync.WaitGroup
		sem     = make(chan struct{}, parallel)
		results = make([]hostResult, len(hosts))
	)
	for idx, host := range hosts {
		wg.Add(1)
		go func(i int, h string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := deployHost(h, d)
			results[i] = hostResult{host: h, duration: time.Since(start), err: err}
		}(idx, host)
	}
	wg.Wait()
	return results
}

// Remote shell snippets. The node's key, database and backups stay on the
// host across deployments.
func stopCommand() string {
	return "pkill -TERM -f '/ccr -config' || true; " +
		"count=0; while pgrep -f '/ccr -config' >/dev/null; do " +
		"if [ \"$count\" -ge 15 ]; then exit 1; fi; count=$((count+1)); sleep 1; done"
}

func startCommand(remoteDir string) string {
	return fmt.Sprintf("cd %s && chmod +x ccr && setsid -f nohup %s/ccr -config ccr-config.json > ccr.log 2>&1 < /dev/null",
		remoteDir, remoteDir)
}

func deployHost(host string, d deployment) error {
	logPrefix := fmt.Sprintf("[%s]", host)
	log.Printf("%s Starting deployment", logPrefix)
	target := fmt.Sprintf("%s@%s", d.user, host)

	if err := sshRun(target, d.keyPath, "mkdir -p "+d.remoteDir, 10*time.Second); err != nil {
		return fmt.Errorf("create remote directory: %w", err)
	}
	if err := sshRun(target, d.keyPath, stopCommand(), 20*time.Second); err != nil {
		return fmt.Errorf("stop running node: %w", err)
	}
	for _, src := range append([]string{d.binary}, d.files...) {
		if err := rsyncCopy(src, fmt.Sprintf("%s:%s/", target, d.remoteDir), d.keyPath); err != nil {
			return fmt.Errorf("rsync %s: %w", filepath.Base(src), err)
		}
	}
	if err := sshRun(target, d.keyPath, startCommand(d.remoteDir), 30*time.Second); err != nil {
		return fmt.Errorf("start node: %w", err)
	}

	if err := waitHealthy(host, d.port, 20*time.Second); err != nil {
		log.Printf("%s Node did not come up. Fetching ccr.log...", logPrefix)
		if logErr := sshRun(target, d.keyPath, "tail -n 50 "+d.remoteDir+"/ccr.log", 5*time.Second); logErr != nil {
			log.Printf("%s Failed to fetch log: %v", logPrefix, logErr)
		}
		return err
	}
	log.Printf("%s Deployment succeeded", logPrefix)
	return nil
}

// waitHealthy polls the node's /api/health until it answers 200.
func waitHealthy(host string, port int, timeout time.Duration) error {
	url := fmt.Sprintf("http://%s:%d/api/health", host, port)
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	for {
		resp, err := client.Get(url)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("health returned %s", resp.Status)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("node not healthy after %s: %w", timeout, err)
		}
		time.Sleep(time.Second)
	}
}

func sshRun(target, keyPath, remoteCmd string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "ssh",
		"-i", keyPath,
		"-o", "BatchMode=yes",
		"-o", "StrictHostKeyChecking=accept-new",
		target,
		remoteCmd,
	)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("ssh command timed out: %s", remoteCmd)
		}
		return fmt.Errorf("ssh error (%s): %v | output: %s", remoteCmd, err, strings.TrimSpace(output.String()))
	}
	if out := strings.TrimSpace(output.String()); out != "" {
		log.Printf("[%s] %s", target, out)
	}
	return nil
}

func rsyncCopy(src, dest, keyPath string) error {
	cmd := exec.Command("rsync", "-az",
		"-e", fmt.Sprintf("ssh -i %s -o BatchMode=yes -o StrictHostKeyChecking=accept-new", keyPath),
		src,
		dest,
	)
	var output strings.Builder
	cmd.Stdout = &output
	cmd.Stderr = &output
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("rsync output: %s | err: %w", strings.TrimSpace(output.String()), err)
	}
	return nil
}
