// Package feature classifies the contents of an unpacked redistributable
// archive.
//
// Detection runs against a [probe.Probe] and produces a [Package]:
//
//   - [Outputs]: which installable outputs (bin, dev, doc, lib, python,
//     sample, static, stubs) the archive can be split into
//   - CUDA architectures, provided sonames and needed sonames, each a
//     [Grouped] value
//
// The grouped detectors share one algorithm ([Groupable]): the immediate
// children of lib/ are either all files, giving a flat sorted list, or all
// directories (as in lib/cuda11, lib/cuda12), giving one list per
// directory. Anything else is an INTEGRITY_VIOLATION.
//
// A [Manifest] is the detector output for a whole redistrib manifest and
// is written as feature_<version>.json.
package feature
