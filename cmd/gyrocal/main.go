// Command gyrocal runs robust gyroscope error-model calibration over a
// recorded measurement set and reports the estimated scale/cross-coupling
// and g-dependent bias matrices.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/gyrocal/internal/caldb"
	"github.com/banshee-data/gyrocal/internal/config"
	"github.com/banshee-data/gyrocal/internal/gyrocal"
	"github.com/banshee-data/gyrocal/internal/imulog"
	"github.com/banshee-data/gyrocal/internal/report"
	"github.com/banshee-data/gyrocal/internal/units"
)

var (
	logPath    = flag.String("log", "", "Measurement log file (JSON lines)")
	dbPath     = flag.String("db", "", "Calibration database path")
	sessionID  = flag.String("session", "", "Session ID to load from the database")
	configPath = flag.String("config", "", "Tuning config file (JSON)")
	method     = flag.String("method", "", "Robust method: ransac, lmeds, msac, prosac, promeds")
	biasFlag   = flag.String("bias", "", "Known fixed bias as wx,wy,wz (rad/s)")
	seed       = flag.Int64("seed", 0, "Random seed (0 = time-based)")
	record     = flag.Bool("record", false, "Record the run in the database")
	histogram  = flag.String("histogram", "", "Write residual histogram PNG to this path")
	scatter    = flag.String("scatter", "", "Write residual scatter HTML to this path")
	rateUnits  = flag.String("units", units.RadPS, "Angular-rate units for printed matrices")
)

func main() {
	flag.Parse()

	if (*logPath == "") == (*dbPath == "") {
		log.Fatal("exactly one of -log or -db is required")
	}
	if *dbPath != "" && *sessionID == "" {
		log.Fatal("-session is required with -db")
	}
	if !units.IsValidRateUnit(*rateUnits) {
		log.Fatalf("unknown rate units %q (valid: %s)", *rateUnits, units.GetValidRateUnitsString())
	}

	cfg := gyrocal.DefaultConfig()
	var bias [3]float64

	if *configPath != "" {
		tc, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load tuning config: %v", err)
		}
		biasOverride, err := tc.Apply(&cfg)
		if err != nil {
			log.Fatalf("failed to apply tuning config: %v", err)
		}
		if biasOverride != nil {
			bias = *biasOverride
		}
	}
	if *method != "" {
		m, err := gyrocal.ParseRobustMethod(*method)
		if err != nil {
			log.Fatal(err)
		}
		cfg.Method = m
	}
	if *seed != 0 {
		cfg.Seed = *seed
	}
	if *biasFlag != "" {
		b, err := parseBias(*biasFlag)
		if err != nil {
			log.Fatalf("invalid -bias: %v", err)
		}
		bias = b
	}

	var (
		measurements []gyrocal.Measurement
		db           *caldb.DB
		err          error
	)
	if *logPath != "" {
		measurements, err = imulog.ReadFile(*logPath)
		if err != nil {
			log.Fatalf("failed to load measurement log: %v", err)
		}
	} else {
		db, err = caldb.Open(*dbPath)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		measurements, err = db.Measurements(*sessionID)
		if err != nil {
			log.Fatalf("failed to load session measurements: %v", err)
		}
	}
	log.Printf("loaded %d measurements", len(measurements))

	cfg.Progress = func(done float64) {
		log.Printf("calibrating... %3.0f%%", done*100)
	}

	est, err := gyrocal.New(cfg)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if err := est.SetMeasurements(measurements); err != nil {
		log.Fatalf("failed to set measurements: %v", err)
	}
	if err := est.SetBias(bias); err != nil {
		log.Fatalf("failed to set bias: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, calErr := est.Calibrate(ctx)

	if db != nil && *record {
		params := caldb.RunParams{
			Method:          cfg.Method.String(),
			Confidence:      cfg.Confidence,
			MaxIterations:   cfg.MaxIterations,
			SubsetSize:      cfg.SubsetSize,
			InlierThreshold: cfg.InlierThreshold,
			CommonAxis:      cfg.CommonAxis,
			Seed:            cfg.Seed,
			Bias:            bias,
		}
		runID, err := db.RecordRun(*sessionID, params, model, est.InlierData(), est.Iterations())
		if err != nil {
			log.Printf("failed to record run: %v", err)
		} else {
			log.Printf("recorded run %s", runID)
		}
	}

	if calErr != nil {
		log.Fatalf("calibration failed after %d iterations: %v", est.Iterations(), calErr)
	}

	inliers := est.InlierData()
	log.Printf("converged in %d iterations, %d/%d inliers (%.1f%%)",
		est.Iterations(), inliers.NumInliers, len(inliers.Mask), inliers.Ratio()*100)

	printModel(model, *rateUnits)

	if *histogram != "" {
		if err := report.WriteResidualHistogramPNG(*histogram, inliers); err != nil {
			log.Printf("failed to write histogram: %v", err)
		} else {
			log.Printf("wrote %s", *histogram)
		}
	}
	if *scatter != "" {
		if err := report.WriteResidualScatterHTML(*scatter, inliers); err != nil {
			log.Printf("failed to write scatter report: %v", err)
		} else {
			log.Printf("wrote %s", *scatter)
		}
	}
}

func printModel(model *gyrocal.Model, rateUnits string) {
	fmt.Printf("Mg (scale and cross-coupling):\n%v\n\n",
		mat.Formatted(model.Mg, mat.Prefix(""), mat.Squeeze()))
	fmt.Printf("Gg (g-dependent bias, %s per m/s²):\n%v\n\n", rateUnits,
		mat.Formatted(scaledCopy(model.Gg, rateUnits), mat.Prefix(""), mat.Squeeze()))
	fmt.Printf("MSE: %.6g  chi-square: %.6g\n", model.MSE, model.ChiSq)
	if model.Covariance != nil {
		r, c := model.Covariance.Dims()
		fmt.Printf("parameter covariance: %dx%d (retained)\n", r, c)
	}
}

func scaledCopy(m *mat.Dense, rateUnits string) *mat.Dense {
	out := mat.DenseCopyOf(m)
	if rateUnits == units.RadPS {
		return out
	}
	scale := units.ConvertRate(1, rateUnits)
	out.Scale(scale, out)
	return out
}

func parseBias(s string) ([3]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]float64{}, fmt.Errorf("want 3 comma-separated values, got %d", len(parts))
	}
	var b [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return [3]float64{}, fmt.Errorf("component %d: %w", i, err)
		}
		b[i] = v
	}
	return b, nil
}
