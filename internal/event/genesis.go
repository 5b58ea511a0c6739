package event

// RootID is the designated root of the graph. Every cause chain must
// terminate at a genesis id, and RootID is the ultimate inference
// fallback when no better anchor exists.
const RootID = "root"

// MetaModel is the fixed schema context for Instance and Model events.
const MetaModel = "Meta Model"

// ModelPrefix builds per-individual model names: an Individual of base B
// resolves to model "Model B" until a SetModel says otherwise.
const ModelPrefix = "Model "

// ActorSystem is the actor recorded on events the engine derives itself
// (guard firings, auto-filled defaults).
const ActorSystem = "system"

// genesisIDs is the fixed set of pre-seeded DAG roots. These events are
// allowed an empty cause set and are exempt from chain validation.
var genesisIDs = map[string]bool{
	RootID:          true,
	"root-instance": true,
	"root-model":    true,
	"root-actor":    true,
}

// IsGenesis reports whether id is a designated DAG root.
func IsGenesis(id string) bool {
	return genesisIDs[id]
}

// GenesisIDs returns the genesis set as a slice, for diagnostics.
func GenesisIDs() []string {
	ids := make([]string, 0, len(genesisIDs))
	for id := range genesisIDs {
		ids = append(ids, id)
	}
	return ids
}
