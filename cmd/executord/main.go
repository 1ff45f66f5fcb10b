package main

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Jeffrey-P-McAteer/weverywhere/core"
	"github.com/Jeffrey-P-McAteer/weverywhere/internal/dispatch"
	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/config"
	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/keystore"
	"github.com/Jeffrey-P-McAteer/weverywhere/pkg/trustfile"
)

func main() {
	rootCmd := &cobra.Command{Use: "executord"}
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(submitCmd())
	rootCmd.AddCommand(pubkeyCmd())
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run the executor and join the LAN multicast group",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cfgPath)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "path to executord.yaml (defaults to ./executord.yaml)")
	return cmd
}

func keygenCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "generate a new Ed25519 signing key",
		RunE: func(cmd *cobra.Command, args []string) error {
			priv, err := keystore.GenerateAndSaveKey(out)
			if err != nil {
				return err
			}
			fmt.Printf("wrote %s\npublic key: %x\n", out, priv.Public())
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "identity.pem", "output path for the PKCS#8 PEM private key")
	return cmd
}

// pubkeyCmd prints the public half of a local identity file as an
// OpenSSH-compatible authorized_keys line, for operators who need to hand
// their key to a peer to add to that peer's trust-peers file.
func pubkeyCmd() *cobra.Command {
	var keyPath, label string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "print the public key of a local identity file",
		RunE: func(cmd *cobra.Command, args []string) error {
			pub, err := keystore.LoadVerifyingKey(keyPath)
			if err != nil {
				return err
			}
			line, err := trustfile.FormatLine(label, pub)
			if err != nil {
				return err
			}
			fmt.Println(line)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "identity.pem", "path to the Ed25519 PKCS#8 PEM key")
	cmd.Flags().StringVar(&label, "label", "", "label to attach as the authorized_keys comment")
	return cmd
}

// submitCmd plays the controller role: it signs a wasm module as a
// ProgramBundle and multicasts it once, for operators driving an executor
// fleet from the command line rather than a bespoke controller process.
func submitCmd() *cobra.Command {
	var keyPath, humanName, wasmPath, group string
	var port int
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "sign and multicast a wasm program bundle",
		RunE: func(cmd *cobra.Command, args []string) error {
			return submit(keyPath, humanName, wasmPath, group, port)
		},
	}
	cmd.Flags().StringVar(&keyPath, "key", "identity.pem", "path to the controller's Ed25519 PKCS#8 PEM key")
	cmd.Flags().StringVar(&humanName, "name", "", "advisory human name for this program")
	cmd.Flags().StringVar(&wasmPath, "wasm", "", "path to the WASI program's .wasm file")
	cmd.Flags().StringVar(&group, "group", "224.0.0.3", "multicast group address")
	cmd.Flags().IntVar(&port, "port", 2240, "multicast group port")
	return cmd
}

func submit(keyPath, humanName, wasmPath, group string, port int) error {
	priv, err := keystore.LoadSigningKey(keyPath)
	if err != nil {
		return err
	}
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return err
	}

	id, err := core.SignIdentity(priv, humanName, time.Now(), time.Hour)
	if err != nil {
		return err
	}
	bundle, err := core.SignBundle(priv, id, humanName, wasmBytes)
	if err != nil {
		return err
	}

	encoded, err := core.Encode(core.NewExecuteRequest(bundle))
	if err != nil {
		return err
	}

	sender := dispatch.NewSender(dispatch.SenderConfig{MulticastAddr: group, Port: port})
	sent, err := sender.Send(encoded)
	if err != nil {
		return err
	}
	fmt.Printf("submitted %d bytes to %s:%d on %d interface(s)\n", len(wasmBytes), group, port, sent)
	return nil
}

func serve(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	log := logrus.New()
	if level, lerr := logrus.ParseLevel(cfg.Logging.Level); lerr == nil {
		log.SetLevel(level)
	}
	if cfg.Logging.File != "" {
		f, ferr := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if ferr != nil {
			return ferr
		}
		defer f.Close()
		log.SetOutput(f)
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	priv, err := keystore.LoadSigningKey(cfg.Identity.PrivateKeyPath)
	if err != nil {
		return err
	}

	trust := core.NewTrustStore()
	trust.Add(core.SelfLabel, priv.Public().(ed25519.PublicKey))

	if cfg.Trust.PeersFile != "" {
		peers, terr := trustfile.Load(cfg.Trust.PeersFile)
		if terr != nil {
			return terr
		}
		for label, key := range peers {
			trust.Add(label, key)
		}
	}

	exec := core.NewExecutor(core.ExecutorConfig{
		Trust:              trust,
		Log:                log,
		UntrustedFuel:      cfg.Fuel.UntrustedBudget,
		TrustedFuel:        cfg.Fuel.TrustedBudget,
		RateLimitPerSecond: cfg.RateLimit.PerSecond,
		RateLimitBurst:     cfg.RateLimit.Burst,
	})

	health := core.NewHealthLogger(exec, log)
	if cfg.Metrics.ListenAddr != "" {
		srv := health.StartMetricsServer(cfg.Metrics.ListenAddr)
		defer srv.Close()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go health.RunSampler(ctx, 10*time.Second)

	d := dispatch.New(dispatch.Config{
		Exec:          exec,
		Log:           log,
		Health:        health,
		MulticastAddr: cfg.Network.MulticastAddr,
		Port:          cfg.Network.Port,
	})
	defer d.Close()

	log.WithField("human_name", cfg.Identity.HumanName).Info("executord starting")
	return d.Run(ctx)
}
