// Package group classifies regions into the coarse reporting/filtering
// buckets described in spec §3 ("Group") and implements the
// paradigm-to-group derivation and the USR->COM taint rule.
package group

import (
	"regexp"
	"strings"
)

// Group is the enumerated reporting/filtering bucket a region falls into.
type Group uint8

const (
	ALL Group = iota
	FLT
	USR
	SCOREP
	COM
	MPI
	OMP
	SHMEM
	PTHREAD
	CUDA
	OPENCL
	OPENACC
	MEMORY
	IO
	KOKKOS
	HIP
	LIB
	UNKNOWN
)

var names = map[Group]string{
	ALL: "ALL", FLT: "FLT", USR: "USR", SCOREP: "SCOREP", COM: "COM",
	MPI: "MPI", OMP: "OMP", SHMEM: "SHMEM", PTHREAD: "PTHREAD",
	CUDA: "CUDA", OPENCL: "OPENCL", OPENACC: "OPENACC", MEMORY: "MEMORY",
	IO: "IO", KOKKOS: "KOKKOS", HIP: "HIP", LIB: "LIB", UNKNOWN: "UNKNOWN",
}

func (g Group) String() string {
	if s, ok := names[g]; ok {
		return s
	}
	return "UNKNOWN"
}

// All lists every non-ALL, non-FLT group in a stable order, used when
// iterating score-group accumulators.
func All() []Group {
	return []Group{USR, SCOREP, COM, MPI, OMP, SHMEM, PTHREAD, CUDA,
		OPENCL, OPENACC, MEMORY, IO, KOKKOS, HIP, LIB, UNKNOWN}
}

// Posture is a group's default filter posture.
type Posture uint8

const (
	Possible Posture = iota
	Yes
	No
)

var postures = map[Group]Posture{
	ALL: No, FLT: No, USR: Possible, SCOREP: No, COM: Possible,
	MPI: Possible, OMP: Possible, SHMEM: Possible, PTHREAD: Possible,
	CUDA: Possible, OPENCL: Possible, OPENACC: Possible, MEMORY: No,
	IO: Possible, KOKKOS: Possible, HIP: Possible, LIB: Possible,
	UNKNOWN: Possible,
}

// FilterPosture returns g's default filter posture.
func FilterPosture(g Group) Posture {
	if p, ok := postures[g]; ok {
		return p
	}
	return Possible
}

// Paradigm is the measurement source that named a region.
type Paradigm string

const (
	ParadigmMPI         Paradigm = "mpi"
	ParadigmShmem       Paradigm = "shmem"
	ParadigmOpenMP      Paradigm = "openmp"
	ParadigmPthread     Paradigm = "pthread"
	ParadigmCUDA        Paradigm = "cuda"
	ParadigmOpenCL      Paradigm = "opencl"
	ParadigmOpenACC     Paradigm = "openacc"
	ParadigmMemory      Paradigm = "memory"
	ParadigmMeasurement Paradigm = "measurement"
	ParadigmIO          Paradigm = "io"
	ParadigmHIP         Paradigm = "hip"
	ParadigmKokkos      Paradigm = "kokkos"
	ParadigmUser        Paradigm = "user"
	ParadigmSampling    Paradigm = "sampling"
	ParadigmUnknown     Paradigm = "unknown"
)

const libwrapPrefix = "libwrap:"

// IsLibwrap reports whether p names a "libwrap:<lib>" paradigm tag.
func IsLibwrap(p Paradigm) bool {
	return strings.HasPrefix(string(p), libwrapPrefix)
}

var namePrefixGroup = []struct {
	re *regexp.Regexp
	g  Group
}{
	{regexp.MustCompile(`^MPI_`), MPI},
	{regexp.MustCompile(`^shmem_`), SHMEM},
	{regexp.MustCompile(`^(!\$omp |omp_)`), OMP},
	{regexp.MustCompile(`^pthread_`), PTHREAD},
	{regexp.MustCompile(`^cu[A-Z]`), CUDA},
	{regexp.MustCompile(`^cuda[A-Z]`), CUDA},
	{regexp.MustCompile(`^cl[A-Z]`), OPENCL},
}

// ForRegion derives the base group for a region from its paradigm tag
// and, for paradigms too coarse to decide alone ("user", "unknown"),
// the small set of name-prefix rules in spec §3.
func ForRegion(paradigm Paradigm, regionName string) Group {
	switch paradigm {
	case ParadigmMPI:
		return MPI
	case ParadigmShmem:
		return SHMEM
	case ParadigmOpenMP:
		return OMP
	case ParadigmPthread:
		return PTHREAD
	case ParadigmCUDA:
		return CUDA
	case ParadigmOpenCL:
		return OPENCL
	case ParadigmOpenACC:
		return OPENACC
	case ParadigmMemory:
		return MEMORY
	case ParadigmMeasurement:
		return SCOREP
	case ParadigmIO:
		return IO
	case ParadigmHIP:
		return HIP
	case ParadigmKokkos:
		return KOKKOS
	case ParadigmSampling:
		return UNKNOWN
	}
	if IsLibwrap(paradigm) {
		return LIB
	}
	for _, rule := range namePrefixGroup {
		if rule.re.MatchString(regionName) {
			return rule.g
		}
	}
	if paradigm == ParadigmUser {
		return USR
	}
	return UNKNOWN
}

// Taint reclassifies a USR group as COM when tainted reports that some
// descendant of the owning call path transits a non-USR group (spec
// §3 invariant: "Any call path that transits through a non-USR group
// taints its USR ancestors, reclassifying them COM").
func Taint(g Group, tainted bool) Group {
	if g == USR && tainted {
		return COM
	}
	return g
}
