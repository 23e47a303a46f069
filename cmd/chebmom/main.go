// Command chebmom runs the moment quantities configured in a container file
// and writes the resulting moment arrays back into it.
package main

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fumin/chebmom"
	"github.com/fumin/chebmom/container"
	"github.com/fumin/chebmom/ham"
)

func main() {
	cmd := &cobra.Command{
		Use:          "chebmom <config>",
		Short:        "estimate Chebyshev spectral moments with the kernel polynomial method",
		Args:         cobra.ExactArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0])
		},
	}
	cmd.Flags().Int("stride", 128, "tile side, a power of two dividing the subdomain extent")
	cmd.Flags().Int("ghosts", 2, "ghost layer width")
	cmd.Flags().Int("block-size", chebmom.DefaultBlockSize, "block width of the 2D/3D contractions")
	cmd.Flags().Uint64("seed", 1, "master seed mixed with each thread id")
	viper.SetEnvPrefix("chebmom")
	viper.AutomaticEnv()
	for _, flag := range []string{"stride", "ghosts", "block-size", "seed"} {
		if err := viper.BindPFlag(flag, cmd.Flags().Lookup(flag)); err != nil {
			logrus.Fatalf("%+v", err)
		}
	}

	if err := cmd.Execute(); err != nil {
		logrus.Errorf("%+v", err)
		os.Exit(1)
	}
}

func run(path string) error {
	f, err := container.Open(path)
	if err != nil {
		return errors.Wrap(err, "")
	}
	defer f.Close()

	setup, err := container.ReadSetup(f)
	if err != nil {
		return errors.Wrap(err, "")
	}
	setup.Lat.Stride = viper.GetInt("stride")
	setup.Lat.Ng = viper.GetInt("ghosts")
	if err := setup.Lat.Check(); err != nil {
		return errors.Wrap(err, "")
	}
	logrus.WithFields(logrus.Fields{
		"dim":        setup.Lat.D,
		"size":       setup.Lat.Lt,
		"threads":    setup.Lat.Threads(),
		"precision":  setup.Precision,
		"quantities": len(setup.Quantities),
	}).Info("configuration loaded")

	switch setup.Precision {
	case 0:
		return runQuantities[complex64](f, setup)
	default:
		return runQuantities[complex128](f, setup)
	}
}

func runQuantities[T ham.Scalar](f *container.File, setup *container.Setup) error {
	desc := ham.Convert[T](setup.Desc)
	for _, q := range setup.Quantities {
		start := time.Now()
		dirs, err := chebmom.ParseDirection(q.Direction, setup.Lat.D)
		if err != nil {
			return errors.Wrap(err, "")
		}
		job := &chebmom.Job[T]{
			Lat:       setup.Lat,
			Desc:      desc,
			NMoments:  q.NumMoments,
			Dirs:      dirs,
			NRandom:   q.NumRandoms,
			NDisorder: q.NumDisorder,
			Seed:      viper.GetUint64("seed"),
			BlockSize: viper.GetInt("block-size"),
		}
		prefix := "/Calculation/" + q.Name + "/"

		if len(q.Energies) > 0 {
			cond, err := chebmom.SingleShot(job, q.Energies, q.Gamma)
			if err != nil {
				return errors.Wrap(err, q.Name)
			}
			if err := f.PutComplex(prefix+"GammaOut", widen(cond)); err != nil {
				return errors.Wrap(err, "")
			}
			scaled := make([]float64, len(q.Energies))
			for i, e := range q.Energies {
				scaled[i] = e * setup.EnergyScale
			}
			if err := f.PutFloats(prefix+"ScaledEnergy", scaled); err != nil {
				return errors.Wrap(err, "")
			}
		} else {
			mu, err := chebmom.Moments(job)
			if err != nil {
				return errors.Wrap(err, q.Name)
			}
			if err := f.PutComplex(prefix+"MU", widen(mu)); err != nil {
				return errors.Wrap(err, "")
			}
			// The optical conductivity needs the diamagnetic term
			// Tr[v^{αβ} T_n] alongside the two-factor moments.
			if q.Name == "conductivity_optical" && len(dirs) == 2 {
				lambdaJob := *job
				lambdaJob.NMoments = q.NumMoments[:1]
				lambdaJob.Dirs = [][]int{append(append([]int{}, dirs[0]...), dirs[1]...)}
				lambda, err := chebmom.Moments(&lambdaJob)
				if err != nil {
					return errors.Wrap(err, q.Name)
				}
				if err := f.PutComplex(prefix+"Lambda", widen(lambda)); err != nil {
					return errors.Wrap(err, "")
				}
			}
		}
		logrus.WithFields(logrus.Fields{
			"quantity":  q.Name,
			"direction": q.Direction,
			"moments":   q.NumMoments,
			"randoms":   q.NumRandoms,
			"disorder":  q.NumDisorder,
			"elapsed":   time.Since(start),
		}).Info("quantity done")
	}
	return nil
}

func widen[T ham.Scalar](v []T) []complex128 {
	out := make([]complex128, len(v))
	for i, x := range v {
		out[i] = complex128(x)
	}
	return out
}
