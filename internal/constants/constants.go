// Package constants provides named constants used throughout the shrubmanage codebase.
// This centralizes the published model parameters and run defaults.
package constants

// Transition rate parameters for the grass/shrub/empty automaton.
const (
	// DefaultB1 scales shrub establishment on empty cells.
	DefaultB1 = 6.8

	// DefaultB2 scales shrub establishment on grass cells (reduced by grazing).
	DefaultB2 = 0.387

	// DefaultB3 is part of the published parameter set but not used by the
	// transition rules.
	DefaultB3 = 38.8

	// DefaultS1 is the baseline shrub establishment on empty cells.
	DefaultS1 = 0.109

	// DefaultS2 is the baseline shrub establishment on grass cells.
	DefaultS2 = 0.061

	// DefaultBG is the local grass colonisation rate.
	DefaultBG = 0.5

	// DefaultC is the crowding term of shrub mortality.
	DefaultC = 0.0015

	// DefaultDS is the baseline shrub mortality.
	DefaultDS = 0.028

	// DefaultDG is the grass mortality.
	DefaultDG = 0.125

	// DefaultTheta is the global (seed rain) grass colonisation rate.
	DefaultTheta = 0.8
)

// Management defaults
const (
	// DefaultRemovalPeriod is the number of years between removal events.
	DefaultRemovalPeriod = 5

	// DefaultRemovalFraction is the probability that a shrub cell is cleared
	// during a removal event.
	DefaultRemovalFraction = 0.2

	// DefaultGrazing is the default grazing pressure (0 to 1).
	DefaultGrazing = 0.0
)

// Grid and run defaults
const (
	// DefaultGridWidth and DefaultGridHeight match the 200x200 test biotope.
	DefaultGridWidth  = 200
	DefaultGridHeight = 200

	// DefaultSteps is the number of yearly time steps for a single run.
	DefaultSteps = 100

	// DefaultSamples is the number of Monte Carlo samples in an ensemble.
	DefaultSamples = 2

	// DefaultSeed seeds the random stream when none is given.
	DefaultSeed = 1

	// DefaultWorkers is the sweep worker pool size.
	DefaultWorkers = 1

	// DefaultInitialGrass and DefaultInitialShrub are the cover fractions of
	// a generated initial map.
	DefaultInitialGrass = 0.6
	DefaultInitialShrub = 0.05
)

// Regression constants
const (
	// GuardedSlope is reported when a density series cannot be log-fitted
	// because shrub cover reached zero.
	GuardedSlope = -1.0

	// RangeTolerance is added to the stop value of an inclusive sweep range.
	RangeTolerance = 1e-9
)

// Workspace layout
const (
	// WorkspaceDirName is the per-project state directory.
	WorkspaceDirName = ".shrubmanage"

	// ResultsDBName is the results database file inside the workspace.
	ResultsDBName = "results.db"

	// EventLogName is the JSONL event log inside the workspace.
	EventLogName = "events.jsonl"
)
