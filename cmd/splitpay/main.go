package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/jask/splitpay/internal/audit"
	"github.com/jask/splitpay/internal/config"
	"github.com/jask/splitpay/internal/currency"
	"github.com/jask/splitpay/internal/database"
	"github.com/jask/splitpay/internal/database/repository"
	"github.com/jask/splitpay/internal/service"
	"github.com/jask/splitpay/internal/testdata"
)

func main() {
	var (
		snapshotPath = flag.String("snapshot", "", "rates/users/accounts file (overrides snapshot.path)")
		demo         = flag.Bool("demo", false, "run the built-in demo bank and script")
		reset        = flag.Bool("reset", false, "wipe the audit database before replaying")
		writeConfig  = flag.Bool("write-config", false, "write the effective config and exit")
	)
	flag.Parse()
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *writeConfig {
		if err := config.Save(cfg); err != nil {
			log.Fatalf("save config: %v", err)
		}
		return
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	snap, err := loadSnapshot(cfg, *snapshotPath, *demo)
	if err != nil {
		logger.Fatal("snapshot", zap.Error(err))
	}

	var opts []audit.Option
	opts = append(opts, audit.WithLogger(logger.Named("audit")))
	var rateRepo *repository.RateRepo
	if cfg.Database.Path != "" {
		if err := database.RunMigrations(cfg.Database.Path); err != nil {
			logger.Fatal("migrate", zap.Error(err))
		}
		db, err := database.Open(cfg.Database.Path)
		if err != nil {
			logger.Fatal("open db", zap.Error(err))
		}
		defer db.Close()

		if *reset {
			maintenance := &service.MaintenanceService{DB: db}
			if err := maintenance.Reset(ctx); err != nil {
				logger.Fatal("reset", zap.Error(err))
			}
		}
		opts = append(opts, audit.WithSink(repository.NewAuditRepo(db)))
		rateRepo = repository.NewRateRepo(db)
	}

	svc, err := service.FromSnapshot(snap, audit.NewLog(opts...), currency.Code(cfg.Ledger.ReferenceCurrency), logger)
	if err != nil {
		logger.Fatal("build bank", zap.Error(err))
	}

	if rateRepo != nil {
		quotes, err := service.Quotes(snap)
		if err != nil {
			logger.Fatal("rates", zap.Error(err))
		}
		if err := rateRepo.ReplaceAll(ctx, repository.Closure(svc.Rates, quotes)); err != nil {
			logger.Warn("store rate table", zap.Error(err))
		}
	}

	scripts, closeAll, err := openScripts(flag.Args(), *demo)
	if err != nil {
		logger.Fatal("scripts", zap.Error(err))
	}
	defer closeAll()

	mark := svc.Audit.Seq()
	results, err := svc.ReplayAll(ctx, scripts...)
	if err != nil {
		logger.Error("replay", zap.Error(err))
	}
	for i, res := range results {
		for _, lineErr := range res.Errors {
			logger.Warn("script line skipped", zap.Int("script", i), zap.Error(lineErr))
		}
		logger.Info("script replayed",
			zap.Int("script", i),
			zap.Int("applied", res.Applied),
			zap.Int("skipped", len(res.Errors)),
			zap.Int("splits_resolved", len(res.Outcomes)),
		)
	}

	for _, rec := range svc.Audit.Since(mark) {
		fields := []zap.Field{
			zap.Uint64("seq", rec.Seq),
			zap.Int64("timestamp", rec.Timestamp),
			zap.String("email", rec.Email),
			zap.String("iban", rec.IBAN),
			zap.String("outcome", string(rec.Outcome)),
			zap.String("description", rec.Description),
		}
		if rec.Failed() {
			fields = append(fields, zap.String("error", rec.Error))
		}
		logger.Info("audit", fields...)
	}
	for _, u := range snap.Users {
		for _, iban := range svc.Directory.Accounts(u.Email) {
			bal, cur, err := svc.Balance(iban)
			if err != nil {
				continue
			}
			logger.Info("balance",
				zap.String("email", u.Email),
				zap.String("iban", iban),
				zap.String("amount", currency.Display(bal)),
				zap.String("currency", string(cur)),
			)
		}
	}
}

func loadSnapshot(cfg config.Config, override string, demo bool) (config.Snapshot, error) {
	if demo {
		return testdata.Snapshot(), nil
	}
	path := cfg.Snapshot.Path
	if override != "" {
		path = override
	}
	return config.LoadSnapshot(path)
}

// openScripts opens each named script; "-" or no names reads stdin.
func openScripts(names []string, demo bool) ([]io.Reader, func(), error) {
	if demo {
		return []io.Reader{strings.NewReader(testdata.Script)}, func() {}, nil
	}
	if len(names) == 0 {
		names = []string{"-"}
	}
	var (
		readers []io.Reader
		files   []*os.File
	)
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	for _, name := range names {
		if name == "-" {
			readers = append(readers, os.Stdin)
			continue
		}
		f, err := os.Open(name)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		files = append(files, f)
		readers = append(readers, f)
	}
	return readers, closeAll, nil
}
