package zkproof

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/mynextid/zklogin-prover/jwks"
	"github.com/mynextid/zklogin-prover/nonce"
	"github.com/mynextid/zklogin-prover/prover"
	"github.com/mynextid/zklogin-prover/server"
)

func NewServeCmd() *cobra.Command {
	cfg := &server.ServeConfig{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the zkLogin proving service",
		Long:  `Start the HTTP API that turns OAuth ID tokens into zkLogin Groth16 proofs.`,
		Example: `  # Start server on default port
  zklogin serve

  # Use snarkjs and rapidsnark instead of the built-in prover
  zklogin serve --circuits-dir ./zkey \
    --witness-cmd "snarkjs wtns calculate {circuit} {input} {witness}" \
    --prover-cmd "prover {zkey} {witness} {proof} {public}"

  # Share the key cache between instances
  zklogin serve --redis-addr localhost:6379

  # Production deployment with TLS
  zklogin serve --host 0.0.0.0 --port 443 --enable-tls \
    --cert-file /etc/ssl/cert.pem --key-file /etc/ssl/key.pem`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.Run(cfg)
		},
	}

	// Server flags
	cmd.Flags().StringVar(&cfg.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().IntVarP(&cfg.Port, "port", "p", 8080, "Port to listen on")

	// Circuit and prover flags
	cmd.Flags().StringVarP(&cfg.CircuitsDir, "circuits-dir", "d", "./setup", "Directory containing the compiled circuit and keys")
	cmd.Flags().StringVar(&cfg.WorkDir, "work-dir", filepath.Join(os.TempDir(), "zklogin"), "Directory for per-request prover files")
	cmd.Flags().IntVar(&cfg.Slots, "slots", 0, "Maximum concurrent proofs (0 = number of CPUs)")
	cmd.Flags().StringVar(&cfg.WitnessCommand, "witness-cmd", prover.DefaultWitnessCommand, "Witness generator command template")
	cmd.Flags().StringVar(&cfg.ProverCommand, "prover-cmd", prover.DefaultProverCommand, "Prover command template")
	cmd.Flags().DurationVar(&cfg.WitnessTimeout, "witness-timeout", prover.DefaultWitnessTimeout, "Witness generation timeout")
	cmd.Flags().DurationVar(&cfg.ProveTimeout, "prove-timeout", prover.DefaultProveTimeout, "Proof generation timeout")

	// Token and key flags
	cmd.Flags().StringVar(&cfg.ProvidersFile, "providers", "", "YAML file with trusted providers (empty = built-in list)")
	cmd.Flags().DurationVar(&cfg.JWKSTimeout, "jwks-timeout", jwks.DefaultTimeout, "Key set fetch timeout")
	cmd.Flags().DurationVar(&cfg.KeyCacheTTL, "key-cache-ttl", jwks.DefaultTTL, "Signing key cache TTL")
	cmd.Flags().DurationVar(&cfg.KeyMissInterval, "key-miss-interval", jwks.DefaultMissInterval, "Minimum time between key set refetches for unknown kids (0 = always refetch)")
	cmd.Flags().StringVar(&cfg.RedisAddr, "redis-addr", "", "Redis address(es) for a shared key cache, comma-separated (empty = in memory)")
	cmd.Flags().StringVar(&cfg.RedisPassword, "redis-password", "", "Redis password")
	cmd.Flags().IntVar(&cfg.RedisDB, "redis-db", 0, "Redis database")
	cmd.Flags().StringVar(&cfg.NoncePolicy, "nonce-policy", string(nonce.PolicyReject), "Nonce mismatch policy (reject, warn)")
	cmd.Flags().BoolVar(&cfg.VerifySignature, "verify-signature", true, "Check token signatures before proving")

	// Performance flags
	cmd.Flags().Int64Var(&cfg.MaxRequestSize, "max-request-size", 64*1024, "Maximum request body size in bytes")
	cmd.Flags().DurationVar(&cfg.ReadTimeout, "read-timeout", 15*time.Second, "HTTP read timeout")
	cmd.Flags().DurationVar(&cfg.WriteTimeout, "write-timeout", 240*time.Second, "HTTP write timeout (proof generation can be slow)")
	cmd.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", 120*time.Second, "HTTP idle timeout")
	cmd.Flags().DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")

	// Security flags
	cmd.Flags().BoolVar(&cfg.EnableCORS, "enable-cors", true, "Enable CORS middleware")
	cmd.Flags().StringSliceVar(&cfg.CorsOrigins, "cors-origins", []string{"*"}, "Allowed CORS origins")

	// Observability flags
	cmd.Flags().BoolVar(&cfg.EnablePprof, "enable-pprof", false, "Enable pprof endpoints (debug only)")
	cmd.Flags().BoolVar(&cfg.EnableDebug, "enable-debug", false, "Expose cached key material at /debug/keys")
	cmd.Flags().StringVar(&cfg.LogLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	cmd.Flags().StringVar(&cfg.LogFormat, "log-format", "text", "Log format (text, json)")

	// TLS flags
	cmd.Flags().BoolVar(&cfg.EnableTLS, "enable-tls", false, "Enable TLS/HTTPS")
	cmd.Flags().StringVar(&cfg.CertFile, "cert-file", "", "TLS certificate file")
	cmd.Flags().StringVar(&cfg.KeyFile, "key-file", "", "TLS private key file")

	return cmd
}
