// Package manifest discovers, retrieves and parses NVIDIA redistributable
// manifests.
//
// A manifest (redistrib_<version>.json) maps package names to releases. Two
// schema generations exist and are modelled as the two implementations of
// the sealed [Release] interface:
//
//   - [FlatRelease]: each platform key holds one package object
//   - [VariantRelease]: the release carries a cuda_variant list and each
//     platform key holds one package object per CUDA variant ("cuda11",
//     "cuda12", ...)
//
// [Parse] selects the generation by the presence of cuda_variant and rejects
// everything else with a SCHEMA_ERROR. Manifests are located through a
// [Source]: [RemoteSource] scrapes the vendor index page, [LocalSource]
// globs a directory of previously downloaded files.
package manifest
