package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"mediation-server/pkg/billing"
	"mediation-server/pkg/config"
	"mediation-server/pkg/database"
	"mediation-server/pkg/export"
	"mediation-server/pkg/mediation"
	"mediation-server/pkg/messaging"
	"mediation-server/pkg/metrics"
	"mediation-server/pkg/rates"
	"mediation-server/pkg/version"
)

var logger = logrus.New()

func main() {
	var (
		dfromFlag   = flag.String("dfrom", "", "start of the processing window (2006-01-02 15:04:05, local time)")
		dtoFlag     = flag.String("dto", "", "end of the processing window")
		srcIDFlag   = flag.String("src-id", "", "only mediate calls originated by this carrier code")
		limitFlag   = flag.Int("limit", -1, "cap the number of Call-Ids selected (0 means no cap, -1 uses the configured default)")
		exportFlag  = flag.String("export", "", "export finalized records instead of mediating: all, billing or customer")
		outputFlag  = flag.String("output", "", "export output file (default stdout)")
		migrateFlag = flag.Bool("migrate", false, "create the billing schema and exit")
		verboseFlag = flag.Bool("verbose", false, "debug logging")
	)
	flag.Parse()

	appConfig, err := config.Load(logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	config.ConfigureLogger(logger, appConfig.Logging)
	if *verboseFlag {
		logger.SetLevel(logrus.DebugLevel)
	}
	logger.WithField("version", version.Version).Info("CDR mediation starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	from, to, err := resolveWindow(*dfromFlag, *dtoFlag, appConfig.Mediation)
	if err != nil {
		logger.WithError(err).Fatal("Invalid processing window")
	}
	limit := appConfig.Mediation.Limit
	if *limitFlag >= 0 {
		limit = *limitFlag
	}

	ncDB, err := database.NewMySQLDatabase(appConfig.BillingDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to billing database")
	}
	defer ncDB.Close()

	if *migrateFlag {
		if err := ncDB.Migrate(); err != nil {
			logger.WithError(err).Fatal("Migration failed")
		}
		logger.Info("Billing schema is up to date")
		return
	}

	accDB, err := database.NewMySQLDatabase(appConfig.AccountingDB, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to accounting database")
	}
	defer accDB.Close()

	repo := database.NewRepository(accDB, ncDB, logger)

	if *exportFlag != "" {
		if err := runExport(ctx, repo, *exportFlag, *outputFlag, from, to, limit); err != nil {
			logger.WithError(err).Fatal("Export failed")
		}
		return
	}

	if err := runMediation(ctx, appConfig, repo, from, to, *srcIDFlag, limit); err != nil {
		logger.WithError(err).Fatal("Mediation run failed")
	}
}

// resolveWindow turns the optional flags into a concrete window. Without
// flags the window ends a configured lag before now, so the switch has
// flushed accounting rows for every call we pick up.
func resolveWindow(dfrom, dto string, mc config.MediationConfig) (time.Time, time.Time, error) {
	now := time.Now()

	to := now.Add(-mc.Lag)
	if dto != "" {
		t, err := parseTimeFlag(dto)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dto: %w", err)
		}
		to = t
	}

	from := to.Add(-mc.Window)
	if dfrom != "" {
		t, err := parseTimeFlag(dfrom)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("dfrom: %w", err)
		}
		from = t
	}

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("dfrom %s is not before dto %s", from, to)
	}
	return from, to, nil
}

func parseTimeFlag(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable time %q", value)
}

func runMediation(ctx context.Context, appConfig *config.Config, repo *database.Repository, from, to time.Time, srcID string, limit int) error {
	metrics.Init(logger)
	if appConfig.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			logger.WithField("addr", appConfig.Metrics.ListenAddr).Info("Serving metrics")
			if err := http.ListenAndServe(appConfig.Metrics.ListenAddr, mux); err != nil {
				logger.WithError(err).Error("Metrics listener stopped")
			}
		}()
	}

	profiles, err := billing.NewDirectory(appConfig.Carriers, logger)
	if err != nil {
		return fmt.Errorf("building carrier profiles: %w", err)
	}

	rateDir := rates.NewDirectory(repo, rates.Config{
		PositiveTTL: appConfig.Rates.PositiveTTL,
		NegativeTTL: appConfig.Rates.NegativeTTL,
	}, logger)

	finalizer := mediation.NewFinalizer(profiles, repo.NanpaRegistry(), rateDir, logger)
	processor := mediation.NewProcessor(repo, finalizer, appConfig.Mediation.Workers, logger)

	amqpClient := messaging.NewAMQPClient(logger, appConfig.AMQP)
	if amqpClient.Enabled() {
		if err := amqpClient.Connect(); err != nil {
			logger.WithError(err).Warn("AMQP broker unavailable, records will not be published")
		}
		defer amqpClient.Disconnect()
	}

	runLog := logger.WithField("run_id", uuid.NewString())
	runLog.WithFields(logrus.Fields{
		"from":   from.Format(time.RFC3339),
		"to":     to.Format(time.RFC3339),
		"src_id": srcID,
		"limit":  limit,
	}).Info("Starting mediation run")

	callIDs, err := repo.CallIDsInRange(ctx, from, to, srcID, limit)
	if err != nil {
		return fmt.Errorf("selecting calls: %w", err)
	}
	if len(callIDs) == 0 {
		runLog.Info("No calls in window")
		return nil
	}

	complete, incomplete, err := processor.Run(ctx, callIDs)
	if err != nil {
		return err
	}

	var persisted, failed, published int
	for _, call := range complete {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := repo.WriteCallRecord(ctx, call); err != nil {
			runLog.WithError(err).WithField("callid", call.CallID).Error("Failed to persist call record")
			failed++
			continue
		}
		persisted++

		if amqpClient.IsConnected() {
			if err := amqpClient.PublishCallRecord(call); err != nil {
				runLog.WithError(err).WithField("callid", call.CallID).Warn("Failed to publish call record")
			} else {
				published++
			}
		}
	}

	runLog.WithFields(logrus.Fields{
		"calls":      len(callIDs),
		"complete":   len(complete),
		"incomplete": len(incomplete),
		"persisted":  persisted,
		"failed":     failed,
		"published":  published,
	}).Info("Mediation run finished")

	if failed > 0 {
		return fmt.Errorf("%d call records failed to persist", failed)
	}
	return nil
}

func runExport(ctx context.Context, repo *database.Repository, profileName, output string, from, to time.Time, limit int) error {
	profile, err := export.ParseProfile(strings.ToLower(profileName))
	if err != nil {
		return err
	}

	records, err := repo.GetCallRecords(ctx, from, to, limit)
	if err != nil {
		return fmt.Errorf("loading call records: %w", err)
	}

	out := os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	if err := export.Write(out, records, profile); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"records": len(records),
		"profile": string(profile),
	}).Info("Export finished")
	return nil
}
