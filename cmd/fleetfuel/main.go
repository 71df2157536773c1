package main

// Package main is the FleetFuel360 command-line entry point.
//
// Commands:
//   serve     — run the HTTP API server with the background scheduler
//   train     — fit and persist an anomaly model from stored history
//   score     — run the current model over stored records
//   stats     — print fleet and per-vehicle aggregates
//   recommend — evaluate the advisory rules and print the results
//   seed      — generate demo vehicles and fuel history

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fleetfuel/fleetfuel360/internal/analytics"
	"github.com/fleetfuel/fleetfuel360/internal/audit"
	"github.com/fleetfuel/fleetfuel360/internal/config"
	"github.com/fleetfuel/fleetfuel360/internal/logging"
	"github.com/fleetfuel/fleetfuel360/internal/models"
	"github.com/fleetfuel/fleetfuel360/internal/server"
	"github.com/fleetfuel/fleetfuel360/internal/store"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "fleetfuel",
		Short: "FleetFuel360 - per-vehicle fuel anomaly detection",
		Long: `FleetFuel360 ingests per-vehicle fuel logs, trains an Isolation Forest
over engineered consumption features, and surfaces anomalies, statistics,
and threshold-rule recommendations over a REST and WebSocket API.`,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/fleetfuel/config.yaml", "Path to YAML config file")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(trainCmd())
	rootCmd.AddCommand(scoreCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(recommendCmd())
	rootCmd.AddCommand(seedCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and validates configuration from every source.
func loadConfig(ctx context.Context) (*config.Config, error) {
	mgr, err := config.NewConfigManager(configPath)
	if err != nil {
		return nil, err
	}
	if err := mgr.Load(ctx); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := mgr.Validate(ctx); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return mgr.Get(ctx), nil
}

// buildEngine assembles the store, logger, audit trail, and engine.
func buildEngine(ctx context.Context) (*analytics.Engine, store.Store, *zap.Logger, error) {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	recorder, err := audit.NewRecorder(audit.DefaultConfig(), st)
	if err != nil {
		st.Close()
		return nil, nil, nil, fmt.Errorf("audit recorder: %w", err)
	}

	return analytics.NewEngine(st, cfg, log, recorder), st, log, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig(ctx)
			if err != nil {
				return err
			}

			log, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer log.Sync()

			st, err := store.NewSQLiteStore(cfg.Database.SQLitePath)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}

			recorder, err := audit.NewRecorder(audit.DefaultConfig(), st)
			if err != nil {
				st.Close()
				return fmt.Errorf("audit recorder: %w", err)
			}
			defer recorder.Close()

			engine := analytics.NewEngine(st, cfg, log, recorder)
			srv, err := server.NewServer(cfg, log, engine, st)
			if err != nil {
				st.Close()
				return err
			}

			if err := srv.Start(); err != nil {
				st.Close()
				return err
			}
			log.Info("fleetfuel360 started", zap.Int("port", cfg.Server.Port))

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
			<-sigChan
			log.Info("shutdown signal received")

			return srv.Stop()
		},
	}
}

func trainCmd() *cobra.Command {
	var since, until string

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Fit and persist an anomaly model from stored history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, st, log, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer log.Sync()

			opts := analytics.TrainOptions{}
			if opts.Window, err = parseWindowFlags(since, until); err != nil {
				return err
			}

			summary, err := engine.Train(ctx, opts)
			if err != nil {
				return fmt.Errorf("training failed: %w", err)
			}
			return printJSON(summary)
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Training window start (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Training window end (RFC3339)")
	return cmd
}

func scoreCmd() *cobra.Command {
	var vehicleID, since, until string

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score stored records with the current model",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, st, log, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer log.Sync()

			if err := engine.Restore(ctx); err != nil {
				return fmt.Errorf("restore model: %w", err)
			}

			window, err := parseWindowFlags(since, until)
			if err != nil {
				return err
			}

			results, err := engine.Score(ctx, vehicleID, window)
			if err != nil {
				return fmt.Errorf("scoring failed: %w", err)
			}

			anomalies := 0
			for _, res := range results {
				if res.IsAnomaly {
					anomalies++
				}
			}
			return printJSON(map[string]interface{}{
				"scored":    len(results),
				"anomalies": anomalies,
				"results":   results,
			})
		},
	}

	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Restrict scoring to one vehicle")
	cmd.Flags().StringVar(&since, "since", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Window end (RFC3339)")
	return cmd
}

func statsCmd() *cobra.Command {
	var vehicleID, since, until string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print fleet and per-vehicle aggregates",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, st, log, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer log.Sync()

			window, err := parseWindowFlags(since, until)
			if err != nil {
				return err
			}

			fleet, vehicles, err := engine.Statistics(ctx, vehicleID, window)
			if err != nil {
				return err
			}
			return printJSON(map[string]interface{}{
				"fleet":    fleet,
				"vehicles": vehicles,
			})
		},
	}

	cmd.Flags().StringVar(&vehicleID, "vehicle", "", "Restrict breakdown to one vehicle")
	cmd.Flags().StringVar(&since, "since", "", "Window start (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Window end (RFC3339)")
	return cmd
}

func recommendCmd() *cobra.Command {
	var since, until string

	cmd := &cobra.Command{
		Use:   "recommend",
		Short: "Evaluate the advisory rules and print the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, st, log, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer log.Sync()

			window, err := parseWindowFlags(since, until)
			if err != nil {
				return err
			}

			recs, err := engine.Recommendations(ctx, window)
			if err != nil {
				return err
			}
			if recs == nil {
				recs = []models.Recommendation{}
			}
			return printJSON(map[string]interface{}{
				"recommendations": recs,
				"count":           len(recs),
			})
		},
	}

	cmd.Flags().StringVar(&since, "since", "", "Evaluation window start (RFC3339)")
	cmd.Flags().StringVar(&until, "until", "", "Evaluation window end (RFC3339)")
	return cmd
}

func seedCmd() *cobra.Command {
	var vehicles, days int
	var seed int64

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Generate demo vehicles and fuel history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			engine, st, log, err := buildEngine(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			defer log.Sync()

			rng := rand.New(rand.NewSource(seed))
			now := time.Now().UTC().Truncate(time.Hour)
			start := now.Add(-time.Duration(days) * 24 * time.Hour)

			var recs []models.FuelRecord
			for i := 0; i < vehicles; i++ {
				id := fmt.Sprintf("V%03d", i+1)
				vtype := "truck"
				if i%3 == 2 {
					vtype = "van"
				}
				if err := st.UpsertVehicle(ctx, &models.Vehicle{
					ID:   id,
					Name: fmt.Sprintf("Vehicle %03d", i+1),
					Type: vtype,
				}); err != nil {
					return err
				}

				baseEff := 8 + rng.Float64()*4 // 8-12 km/L per vehicle
				for d := 0; d < days; d++ {
					ts := start.Add(time.Duration(d)*24*time.Hour +
						time.Duration(rng.Intn(12))*time.Hour)
					km := 80 + rng.Float64()*120
					fuel := km / (baseEff + rng.NormFloat64()*0.5)
					if rng.Float64() < 0.03 {
						fuel *= 2 + rng.Float64() // occasional heavy burn
					}
					recs = append(recs, models.FuelRecord{
						VehicleID:  id,
						Timestamp:  ts,
						DistanceKM: km,
						FuelUsedL:  fuel,
						CostUSD:    fuel * (1.2 + rng.Float64()*0.6),
					})
				}
			}

			// The engine requires ascending timestamps at feature time;
			// seed data arrives sorted per generation order already, but
			// ingest has no order requirement.
			ids, err := engine.Ingest(ctx, recs)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d vehicles with %d fuel records\n", vehicles, len(ids))
			return nil
		},
	}

	cmd.Flags().IntVar(&vehicles, "vehicles", 10, "Number of vehicles to create")
	cmd.Flags().IntVar(&days, "days", 90, "Days of history per vehicle")
	cmd.Flags().Int64Var(&seed, "seed", 42, "RNG seed for reproducible data")
	return cmd
}

func parseWindowFlags(since, until string) (models.Window, error) {
	var w models.Window
	if since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return w, fmt.Errorf("invalid --since: %v", err)
		}
		w.Since = t
	}
	if until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return w, fmt.Errorf("invalid --until: %v", err)
		}
		w.Until = t
	}
	return w, nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
