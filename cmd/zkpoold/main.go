package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/zkpool/zkpool/log"
	"github.com/zkpool/zkpool/pool"
	"github.com/zkpool/zkpool/service"
	"github.com/zkpool/zkpool/storage"
	"github.com/zkpool/zkpool/types"
	"github.com/zkpool/zkpool/verifier"
	"go.vocdoni.io/dvote/db"
	"go.vocdoni.io/dvote/db/metadb"
)

func main() {
	var (
		dataDir       = flag.String("datadir", filepath.Join(os.TempDir(), "zkpoold"), "data directory for the key-value store")
		dbType        = flag.String("dbtype", db.TypePebble, "key-value store backend")
		host          = flag.String("host", "0.0.0.0", "API host")
		port          = flag.Int("port", 9090, "API port")
		logLevel      = flag.String("loglevel", log.LogLevelInfo, "log level (debug, info, warn, error)")
		treeDepth     = flag.Int("treedepth", types.DefaultTreeDepth, "merkle tree depth")
		feeRate       = flag.Uint64("feerate", 0, "protocol fee numerator over 10000")
		relayerFeeBps = flag.Uint64("relayerfeebps", types.MaxRelayerFeeBps, "relay fee cap in basis points")
		governance    = flag.String("governance", "", "governance address (hex)")
		feeAddress    = flag.String("feeaddress", "", "protocol fee recipient address (hex)")
		withdrawVK    = flag.String("withdrawvk", "", "path to the withdrawal circuit verifying key")
		complianceVK  = flag.String("compliancevk", "", "path to the compliance circuit verifying key")
	)
	flag.Parse()
	log.Init(*logLevel, "stdout", nil)

	if !common.IsHexAddress(*governance) {
		log.Fatalf("a valid -governance address is required")
	}
	if *feeAddress != "" && !common.IsHexAddress(*feeAddress) {
		log.Fatalf("invalid -feeaddress")
	}

	kv, err := metadb.New(*dbType, *dataDir)
	if err != nil {
		log.Fatalf("cannot open key-value store: %v", err)
	}
	stg := storage.New(kv)

	withdraw, err := verifier.LoadGroth16Verifier(*withdrawVK)
	if err != nil {
		log.Fatalf("cannot load withdrawal verifying key: %v", err)
	}
	compliance, err := verifier.LoadGroth16Verifier(*complianceVK)
	if err != nil {
		log.Fatalf("cannot load compliance verifying key: %v", err)
	}
	gate := verifier.NewGate(withdraw, compliance)

	p, err := pool.Open(stg, gate, pool.NewLedgerSettler(), pool.Config{
		TreeDepth:     *treeDepth,
		FeeRate:       *feeRate,
		RelayerFeeBps: *relayerFeeBps,
		Governance:    common.HexToAddress(*governance),
		FeeAddress:    common.HexToAddress(*feeAddress),
	})
	if err != nil {
		log.Fatalf("cannot open pool: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	apiService := service.NewAPI(p, *host, *port)
	if err := apiService.Start(ctx); err != nil {
		log.Fatalf("cannot start API service: %v", err)
	}
	log.Infow("pool daemon running", "datadir", *dataDir, "host", *host, "port", *port)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Infow("shutting down")
	apiService.Stop()
}
