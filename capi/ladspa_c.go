package main

/*
#include <stdint.h>
*/
import "C"

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/opd-ai/vmix/config"
	"github.com/opd-ai/vmix/noisegate"
	"github.com/opd-ai/vmix/plugin"
	"github.com/sirupsen/logrus"
)

// Instance management for the C boundary. The host owns instance lifetime;
// handles index fixed slots in the registry.
var (
	registryOnce sync.Once
	registry     *plugin.Registry
	runErrors    atomic.Uint64
	// reportedRunErrors is the runErrors value last logged by cleanup.
	reportedRunErrors atomic.Uint64
)

func defaultRegistry() *plugin.Registry {
	registryOnce.Do(func() {
		model := noisegate.ModelConfig{Kind: noisegate.ModelAuto}
		cfg, err := config.Loader{}.Load()
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "defaultRegistry",
				"error":    err.Error(),
			}).Warn("Invalid configuration, using automatic denoise model")
		} else {
			model = cfg.Options().NoiseModel
		}
		registry = plugin.NewRegistry(noisegate.FactoryFor(model))
	})
	return registry
}

func instantiate(sampleRate int) plugin.Handle {
	h, err := defaultRegistry().Instantiate(sampleRate)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "instantiate",
			"sample_rate": sampleRate,
			"error":       err.Error(),
		}).Error("Failed to instantiate noise gate")
		return 0
	}
	return h
}

func connectPort(h plugin.Handle, port int, data unsafe.Pointer) {
	if err := defaultRegistry().ConnectPort(h, port, data); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "connectPort",
			"port":     port,
			"error":    err.Error(),
		}).Warn("Rejected port connection")
	}
}

// run must not log: it executes on the host's real-time thread.
func run(h plugin.Handle, n int) {
	if err := defaultRegistry().Run(h, n); err != nil {
		runErrors.Add(1)
	}
}

//export vmixInstantiate
func vmixInstantiate(sampleRate C.ulong) C.uint32_t {
	return C.uint32_t(instantiate(int(sampleRate)))
}

//export vmixConnectPort
func vmixConnectPort(h C.uint32_t, port C.ulong, data unsafe.Pointer) {
	connectPort(plugin.Handle(h), int(port), data)
}

//export vmixActivate
func vmixActivate(h C.uint32_t) {
	if err := defaultRegistry().Activate(plugin.Handle(h)); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "vmixActivate",
			"error":    err.Error(),
		}).Warn("Failed to activate noise gate")
	}
}

//export vmixRun
func vmixRun(h C.uint32_t, sampleCount C.ulong) {
	run(plugin.Handle(h), int(sampleCount))
}

//export vmixDeactivate
func vmixDeactivate(h C.uint32_t) {
	_ = defaultRegistry().Deactivate(plugin.Handle(h))
}

// reportRunErrors logs the run failures counted since the last report.
// It is called from cleanup, off the real-time thread.
func reportRunErrors() {
	total := runErrors.Load()
	prev := reportedRunErrors.Swap(total)
	if total <= prev {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function":    "reportRunErrors",
		"failed_runs": total - prev,
		"total":       total,
	}).Warn("Noise gate run calls failed")
}

func cleanup(h plugin.Handle) {
	if err := defaultRegistry().Cleanup(h); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "cleanup",
			"error":    err.Error(),
		}).Warn("Failed to clean up noise gate")
	}
	reportRunErrors()
}

//export vmixCleanup
func vmixCleanup(h C.uint32_t) {
	cleanup(plugin.Handle(h))
}

// vmixRunErrors returns how many run calls failed since the library loaded.
//
//export vmixRunErrors
func vmixRunErrors() C.uint64_t {
	return C.uint64_t(runErrors.Load())
}

func main() {}
