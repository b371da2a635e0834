// Package main exports the vmix noise gate as a LADSPA effect plugin so
// that an external real-time filter-chain host can load it at runtime.
//
// # Build Instructions
//
// To build as a C shared library:
//
//	go build -buildmode=c-shared -o libvmix_noise_gate.so ./capi/
//
// The library exports ladspa_descriptor, which returns one descriptor at
// index 0 and NULL for any other index.
//
// # Descriptor
//
//   - Unique ID 0x564d58, label "vmix_noise_gate", hard real-time capable.
//   - Port 0: control input "VAD Threshold (%)", bounded 0..100, default 50.
//   - Port 1: mono audio input.
//   - Port 2: mono audio output. In-place processing is supported.
//
// # Host Usage
//
// A PipeWire filter-chain node loads it like any LADSPA plugin:
//
//	{ type = ladspa
//	  name = gate
//	  plugin = /usr/lib/ladspa/libvmix_noise_gate.so
//	  label = vmix_noise_gate
//	  control = { "VAD Threshold (%)" = 50 } }
//
// # Instance Management
//
// Handles returned by instantiate index fixed slots; they are never raw
// Go pointers. A connected port pointer is valid from connect_port until
// cleanup and is dereferenced only during run. run never blocks, logs or
// allocates; its failures are counted instead. The count is logged when an
// instance is cleaned up and can be read through vmixRunErrors.
//
// The denoise model is chosen from the daemon configuration variables
// (VMIX_NS_MODEL, VMIX_NS_MODEL_PATH, or the VMIX_CONFIG document) when the
// first instance is created.
//
// # Limitations
//
//   - The package must be built as "package main" with a main() function
//     to work as a c-shared library
//   - Models are tuned for 48 kHz; other rates work but are logged
package main
