package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"vpn_handshake/internal/config"
	"vpn_handshake/internal/model"
	"vpn_handshake/internal/protocol/handshake"
	"vpn_handshake/internal/service/sandbox"
	"vpn_handshake/internal/utils/log"

	"go.uber.org/zap"
)

const (
	exitOK       = 0
	exitRejected = 1
	exitUsage    = 2
)

const usage = `usage: sandbox <server|client|keygen> [flags]
       sandbox trust <add|revoke|list> -mongo URI [-pub HEX] [-name NAME]

  sandbox keygen -key server.key
  sandbox server -key server.key -trust clients.txt -port 8081 [-upstream 127.0.0.1:9001]
  sandbox client -key client.key -trust server.txt -port 8081 -message hello
  sandbox trust add -mongo mongodb://localhost:27017 -pub <hex> -name laptop
`

type stringList []string

func (s *stringList) String() string { return strings.Join(*s, ",") }

func (s *stringList) Set(v string) error {
	*s = append(*s, v)
	return nil
}

// invocation is one parsed command line.
type invocation struct {
	cfg *config.Config

	// trust mode only
	action sandbox.TrustAction
	pub    string
	name   string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	inv, err := parseArgs(args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	cfg := inv.cfg

	if cfg.Mode == config.ModeKeygen {
		if err := sandbox.Keygen(cfg.KeyFile, stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return exitRejected
		}
		return exitOK
	}

	if err := log.Init(cfg.LogLevel); err != nil {
		fmt.Fprintln(stderr, "log level:", err)
		fmt.Fprint(stderr, usage)
		return exitUsage
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Mode == config.ModeTrust {
		return exitCode(sandbox.Trust(ctx, cfg, inv.action, inv.name, inv.pub, stdout))
	}

	role := model.Initiator
	if cfg.Mode == config.ModeServer {
		role = model.Responder
	}
	deps, err := sandbox.NewDeps(ctx, cfg, role)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return exitRejected
	}
	defer func() {
		if err := deps.Close(); err != nil {
			log.Warn("shutdown", zap.Error(err))
		}
	}()

	switch cfg.Mode {
	case config.ModeServer:
		err = sandbox.NewServer(cfg, deps).Run(ctx)
	case config.ModeClient:
		var res *sandbox.Result
		res, err = sandbox.NewClient(cfg, deps).Run(ctx)
		if err == nil {
			fmt.Fprintf(stdout, "established session %s with %s\n", res.SessionID, res.PeerKey)
			if res.Reply != nil {
				fmt.Fprintf(stdout, "reply: %s\n", res.Reply)
			}
		}
	}
	return exitCode(err)
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var rej handshake.Rejected
	if errors.As(err, &rej) {
		log.Error("handshake aborted", zap.Stringer("kind", rej.Kind))
	} else {
		log.Error("run failed", zap.Error(err))
	}
	return exitRejected
}

func parseArgs(args []string) (*invocation, error) {
	if len(args) < 1 {
		return nil, errors.New("missing mode")
	}
	mode := config.Mode(args[0])
	args = args[1:]

	inv := &invocation{}
	if mode == config.ModeTrust {
		if len(args) < 1 {
			return nil, errors.New("trust: missing action")
		}
		inv.action = sandbox.TrustAction(args[0])
		switch inv.action {
		case sandbox.TrustAdd, sandbox.TrustRevoke, sandbox.TrustList:
		default:
			return nil, fmt.Errorf("trust: unknown action %q", inv.action)
		}
		args = args[1:]
	}

	var err error
	if inv.cfg, err = parseFlags(mode, args, inv); err != nil {
		return nil, err
	}
	if (inv.action == sandbox.TrustAdd || inv.action == sandbox.TrustRevoke) && inv.pub == "" {
		return nil, errors.New("trust: -pub is required")
	}
	return inv, nil
}

// parseFlags layers an optional -config file, then explicitly set flags,
// over the defaults.
func parseFlags(mode config.Mode, args []string, inv *invocation) (*config.Config, error) {
	fs := flag.NewFlagSet(string(mode), flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configPath   = fs.String("config", "", "JSON config file")
		host         = fs.String("host", config.DefaultHost, "server host")
		port         = fs.Int("port", config.DefaultPort, "server port")
		transport    = fs.String("transport", string(config.TransportTCP), "tcp or ws")
		keyFile      = fs.String("key", "", "static key file (created by keygen)")
		once         = fs.Bool("once", false, "server: handle one connection and exit with its result")
		message      = fs.String("message", "", "client: payload to send through the tunnel, waiting for one reply")
		upstream     = fs.String("upstream", "", "server: TCP address to relay tunnel payloads to instead of echoing")
		timeout      = fs.Duration("timeout", config.DefaultHandshakeTimeout, "handshake timeout, 0 for none")
		dialAttempts = fs.Uint64("dial-attempts", config.DefaultDialAttempts, "connection attempts")
		redisAddr    = fs.String("redis", "", "redis address for the shared replay guard")
		mongoURI     = fs.String("mongo", "", "mongodb uri for the trusted peer store")
		mongoDB      = fs.String("mongo-db", config.DefaultMongoDatabase, "mongodb database")
		metricsAddr  = fs.String("metrics", "", "address to serve /metrics on")
		logLevel     = fs.String("log-level", "info", "debug, info, warn or error")
		trust        stringList
	)
	fs.Var(&trust, "trust", "trusted public keys file, repeatable")
	fs.StringVar(&inv.pub, "pub", "", "trust: hex public key of the peer")
	fs.StringVar(&inv.name, "name", "", "trust: label stored with the peer")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	cfg := config.GetDefaultConfig()
	if *configPath != "" {
		var err error
		if cfg, err = config.ParseConfig(*configPath); err != nil {
			return nil, err
		}
	}
	cfg.Mode = mode

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "host":
			cfg.Host = *host
		case "port":
			cfg.Port = *port
		case "transport":
			cfg.Transport = config.TransportType(*transport)
		case "key":
			cfg.KeyFile = *keyFile
		case "trust":
			cfg.TrustFiles = trust
		case "once":
			cfg.Once = *once
		case "message":
			cfg.Message = *message
		case "upstream":
			cfg.Upstream = *upstream
		case "timeout":
			cfg.HandshakeTimeout = config.Duration(*timeout)
		case "dial-attempts":
			cfg.DialAttempts = *dialAttempts
		case "redis":
			cfg.RedisAddr = *redisAddr
		case "mongo":
			cfg.MongoURI = *mongoURI
		case "mongo-db":
			cfg.MongoDatabase = *mongoDB
		case "metrics":
			cfg.MetricsAddr = *metricsAddr
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
