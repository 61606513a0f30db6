// Command ecl-saxpy runs a SAXPY dispatch (out[i] = round(c*a[i] + b[i])) across one or more
// compute devices, using either the simulated backend or a real OpenCL device (build with
// -tags opencl), and prints the Inspector report for the run.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	enginecl "github.com/atc-unican/enginecl"
	"github.com/atc-unican/enginecl/internal/compute"
	"github.com/atc-unican/enginecl/internal/config"
	"github.com/atc-unican/enginecl/internal/errs"
	"github.com/atc-unican/enginecl/internal/scheduler"
	"github.com/atc-unican/enginecl/internal/work"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		n            uint64
		lws          uint64
		constant     float64
		devicesFlag  string
		staticFlag   string
		dynamicFlag  uint64
		check        bool
		kernelPath   string
		simulated    bool
		saveChunks   bool
		blockingRead bool
		waitAllReady bool
		configPath   string
		entryPoint   string
	)

	cmd := &cobra.Command{
		Use:   "ecl-saxpy",
		Short: "Run a SAXPY dispatch across one or more compute devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			var specs []enginecl.DeviceSpec
			var err error
			if configPath != "" {
				specs, n, lws, staticFlag, dynamicFlag, kernelPath, entryPoint, err = specsFromManifest(configPath)
				if err != nil {
					return err
				}
			} else {
				specs, err = parseDevices(devicesFlag)
				if err != nil {
					return err
				}
			}

			a := make([]float32, n)
			b := make([]float32, n)
			out := make([]float32, n)
			for i := range a {
				a[i] = 1
				b[i] = 2
			}

			var backend compute.Backend
			var source string
			if simulated {
				backend = compute.NewSimulatedBackend(len(specs))
			} else {
				backend, err = compute.NewOpenCLBackend()
				if err != nil {
					return err
				}
				if kernelPath == "" {
					return errs.NewConfigError("ecl-saxpy", "--kernel is required without --simulated")
				}
			}
			if kernelPath != "" {
				source, err = loadKernelSource(kernelPath)
				if err != nil {
					return err
				}
			}

			gws, err := work.NewNDRange(n)
			if err != nil {
				return err
			}
			rt, err := enginecl.New(backend, specs, gws, lws, 1, 1)
			if err != nil {
				return err
			}
			rt.SetBlockingRead(blockingRead)
			rt.SetWaitAllReady(waitAllReady)
			rt.SetSaveChunks(saveChunks)

			sched, err := buildScheduler(staticFlag, dynamicFlag, lws, n)
			if err != nil {
				return err
			}
			rt.SetScheduler(sched)

			abuf, err := work.NewBuffer(work.In, a)
			if err != nil {
				return err
			}
			bbuf, err := work.NewBuffer(work.In, b)
			if err != nil {
				return err
			}
			obuf, err := work.NewBuffer(work.Out, out)
			if err != nil {
				return err
			}

			rt.SetKernel(source, entryPoint)
			ah := rt.SetInBuffer(abuf)
			bh := rt.SetInBuffer(bbuf)
			oh := rt.SetOutBuffer(obuf)
			rt.SetKernelArg(0, ah)
			rt.SetKernelArg(1, bh)
			rt.SetKernelArg(2, oh)
			rt.SetKernelArg(3, constant)

			if err := rt.Run(context.Background()); err != nil {
				return err
			}

			rt.PrintStats(os.Stdout)

			if check {
				for i := range out {
					want := float32(math.Round(float64(constant)*float64(a[i]) + float64(b[i])))
					if out[i] != want {
						return fmt.Errorf("ecl-saxpy: check failed at index %d: got %v want %v", i, out[i], want)
					}
				}
				fmt.Println("check: ok")
			}
			return nil
		},
	}

	cmd.Flags().Uint64Var(&n, "n", 1024, "total element count (global work size)")
	cmd.Flags().Uint64Var(&lws, "lws", 128, "local work size")
	cmd.Flags().Float64Var(&constant, "c", 2, "the SAXPY constant")
	cmd.Flags().StringVar(&devicesFlag, "devices", "0.0", "comma-separated platform.device pairs")
	cmd.Flags().StringVar(&staticFlag, "static", "", "colon-separated raw proportions for the static scheduler")
	cmd.Flags().Uint64Var(&dynamicFlag, "dynamic", 0, "chunk count for the dynamic scheduler")
	cmd.Flags().BoolVar(&check, "check", false, "verify out[i] == round(c*a[i]+b[i]) after the run")
	cmd.Flags().StringVar(&kernelPath, "kernel", "", "path to an external kernel source file (required without --simulated)")
	cmd.Flags().BoolVar(&simulated, "simulated", true, "use the in-process simulated backend instead of a real OpenCL device")
	cmd.Flags().BoolVar(&saveChunks, "save-chunks", false, "retain and print per-chunk timing history")
	cmd.Flags().BoolVar(&blockingRead, "blocking", false, "use synchronous read-backs with an inline completion callback")
	cmd.Flags().BoolVar(&waitAllReady, "wait-all-ready", false, "wait for every device to report ready before starting any of them")
	cmd.Flags().StringVar(&configPath, "config", "", "load devices, scheduler, and kernel launch parameters from a YAML manifest, overriding the flags above")
	entryPoint = "saxpy"

	return cmd
}

// specsFromManifest loads a YAML manifest and translates it into the pieces newRootCmd's RunE
// needs, reusing config.Config's own validation rather than repeating it here.
func specsFromManifest(path string) (specs []enginecl.DeviceSpec, n, lws uint64, staticFlag string, dynamicChunks uint64, kernelPath, entryPoint string, err error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, 0, 0, "", 0, "", "", err
	}

	specs = make([]enginecl.DeviceSpec, len(cfg.Devices))
	for i, d := range cfg.Devices {
		specs[i] = enginecl.DeviceSpec{
			PlatformIndex:      d.PlatformIndex,
			DeviceIndex:        d.DeviceIndex,
			MinChunkMultiplier: d.MinChunkMultiplier,
			CPUAffinity:        d.CPUAffinity,
		}
	}

	switch cfg.Scheduler.Kind {
	case "dynamic":
		dynamicChunks = cfg.Scheduler.Chunks
	case "static":
		if len(cfg.Scheduler.RawProportions) > 0 {
			parts := make([]string, len(cfg.Scheduler.RawProportions))
			for i, p := range cfg.Scheduler.RawProportions {
				parts[i] = strconv.FormatFloat(p, 'f', -1, 64)
			}
			staticFlag = strings.Join(parts, ":")
		}
	}

	return specs, cfg.GlobalWorkSize, cfg.LocalWorkSize, staticFlag, dynamicChunks, cfg.KernelSource, cfg.EntryPoint, nil
}

func buildScheduler(staticFlag string, dynamicChunks, lws, n uint64) (scheduler.Scheduler, error) {
	if staticFlag != "" && dynamicChunks != 0 {
		return nil, errs.NewConfigError("buildScheduler", "--static and --dynamic are mutually exclusive")
	}
	if dynamicChunks != 0 {
		s := scheduler.NewDynamicScheduler()
		s.SetLWS(lws)
		s.SetOutPattern(1, 1)
		if err := s.SetTotalSize(n); err != nil {
			return nil, err
		}
		if err := s.SetChunks(dynamicChunks); err != nil {
			return nil, err
		}
		return s, nil
	}

	s := scheduler.NewStaticScheduler()
	s.SetLWS(lws)
	s.SetOutPattern(1, 1)
	if err := s.SetTotalSize(n); err != nil {
		return nil, err
	}
	if staticFlag != "" {
		proportions, err := parseProportions(staticFlag)
		if err != nil {
			return nil, err
		}
		if err := s.SetRawProportions(proportions); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// parseProportions parses a colon-separated proportion string ("0.25:0.25") into the []float64
// StaticScheduler.SetRawProportions expects.
func parseProportions(s string) ([]float64, error) {
	parts := strings.Split(s, ":")
	out := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, errs.NewConfigError("parseProportions", fmt.Sprintf("invalid proportion %q: %v", p, err))
		}
		out[i] = v
	}
	return out, nil
}

// parseDevices parses a comma-separated "platform.device" list into DeviceSpecs.
func parseDevices(s string) ([]enginecl.DeviceSpec, error) {
	parts := strings.Split(s, ",")
	specs := make([]enginecl.DeviceSpec, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		pd := strings.SplitN(p, ".", 2)
		if len(pd) != 2 {
			return nil, errs.NewConfigError("parseDevices", fmt.Sprintf("invalid device %q, want platform.device", p))
		}
		platformIdx, err := strconv.Atoi(pd[0])
		if err != nil {
			return nil, errs.NewConfigError("parseDevices", fmt.Sprintf("invalid platform index %q: %v", pd[0], err))
		}
		deviceIdx, err := strconv.Atoi(pd[1])
		if err != nil {
			return nil, errs.NewConfigError("parseDevices", fmt.Sprintf("invalid device index %q: %v", pd[1], err))
		}
		specs = append(specs, enginecl.DeviceSpec{PlatformIndex: platformIdx, DeviceIndex: deviceIdx})
	}
	return specs, nil
}

// loadKernelSource reads a kernel source file from disk, wrapping I/O errors with the path.
func loadKernelSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", errs.NewConfigError("loadKernelSource", fmt.Sprintf("reading %s: %v", path, err))
	}
	return string(data), nil
}
