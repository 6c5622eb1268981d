package tendermint

import (
	"os"
	"os/exec"
	"path/filepath"

	"github.com/pkg/errors"
)

// InitTendermint runs `tendermint init` in tmHome unless it already holds
// a config.toml.
func InitTendermint(tmHome string) error {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if _, err := os.Stat(filepath.Join(tmHome, "config", "config.toml")); err == nil {
		return nil
	}

	cmd := exec.Command("tendermint", "init", "--home", tmHome)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return errors.Wrap(cmd.Run(), "initialize Tendermint")
}

// GetTendermintCommand returns the command that starts a Tendermint node
// connected to the ABCI server at socketAddr.
func GetTendermintCommand(tmHome, socketAddr string) *exec.Cmd {
	if tmHome == "" {
		tmHome = TendermintHome()
	}
	if socketAddr == "" {
		socketAddr = "tcp://127.0.0.1:26658"
	}

	cmd := exec.Command("tendermint", "node",
		"--home", tmHome,
		"--proxy_app", socketAddr,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd
}

// TendermintHome returns $TMHOME, or ~/.tendermint.
func TendermintHome() string {
	if home := os.Getenv("TMHOME"); home != "" {
		return home
	}
	return filepath.Join(os.Getenv("HOME"), ".tendermint")
}
