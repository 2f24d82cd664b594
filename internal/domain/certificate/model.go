package certificate

import (
	"strings"
	"time"
)

// Kind is the canonical URL of the questionnaire a submission answers. It
// selects the structure maps used to normalize the submission.
type Kind string

const (
	KindDDCC Kind = "http://worldhealthorganization.github.io/ddcc/DDCCVSCoreDataSetQuestionnaire"
	KindDVC  Kind = "http://smart.who.int/icvp/Questionnaire/Questionnaire-DVCModel"
)

// DDCCVersion is stamped on core data sets that do not carry their own.
const DDCCVersion = "RC-2-draft"

// TimestampLayout is the layout of every timestamp written during a run.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// ParseKind returns the questionnaire kind of a canonical reference,
// ignoring any "|version" suffix.
func ParseKind(questionnaire string) Kind {
	if i := strings.Index(questionnaire, "|"); i >= 0 {
		questionnaire = questionnaire[:i]
	}
	return Kind(questionnaire)
}

// CoreDataSet is the normalized clinical facts produced by the normalizer.
// It is kept generic because its exact shape belongs to the structure maps.
type CoreDataSet map[string]interface{}

// PatientIdentifier returns the patient business identifier as a search
// token: the plain value, or "system|value" when a system is present.
func (d CoreDataSet) PatientIdentifier() string {
	switch id := d["identifier"].(type) {
	case string:
		return id
	case map[string]interface{}:
		value, _ := id["value"].(string)
		if value == "" {
			return ""
		}
		if system, _ := id["system"].(string); system != "" {
			return system + "|" + value
		}
		return value
	}
	return ""
}

// IssuerIdentifier returns certificate.issuer.identifier.value.
func (d CoreDataSet) IssuerIdentifier() string {
	return d.lookup("certificate", "issuer", "identifier", "value")
}

// HCID returns certificate.hcid.value.
func (d CoreDataSet) HCID() string {
	return d.lookup("certificate", "hcid", "value")
}

// DDCCID returns certificate.ddccid.value, empty when the document is new.
func (d CoreDataSet) DDCCID() string {
	return d.lookup("certificate", "ddccid", "value")
}

// StampVersion sets certificate.version when the normalizer left it empty.
func (d CoreDataSet) StampVersion(version string) {
	cert, ok := d["certificate"].(map[string]interface{})
	if !ok || version == "" {
		return
	}
	if v, _ := cert["version"].(string); v == "" {
		cert["version"] = version
	}
}

func (d CoreDataSet) lookup(path ...string) string {
	var cur interface{} = map[string]interface{}(d)
	for _, key := range path {
		m, ok := cur.(map[string]interface{})
		if !ok {
			return ""
		}
		cur = m[key]
	}
	s, _ := cur.(string)
	return s
}

// Resolved holds the repository records that already exist for a
// submission. Any of them may be nil.
type Resolved struct {
	Organization map[string]interface{}
	Patient      map[string]interface{}
	Folder       map[string]interface{}
}

// Context is the working state of one pipeline run. It is never shared
// between runs.
type Context struct {
	Kind        Kind
	Version     string
	CoreDataSet CoreDataSet
	Resolved    Resolved

	// QuestionnaireResponse is the original intake record, nil for IPS
	// submissions.
	QuestionnaireResponse map[string]interface{}

	Now time.Time
}

// NewContext captures the run timestamp once.
func NewContext(kind Kind, version string, cds CoreDataSet, now time.Time) *Context {
	return &Context{
		Kind:        kind,
		Version:     version,
		CoreDataSet: cds,
		Now:         now.UTC(),
	}
}

// Timestamp formats the run timestamp. Every timestamp a run writes comes
// from here.
func (c *Context) Timestamp() string {
	return c.Now.Format(TimestampLayout)
}

// Stage is a state of the certificate pipeline.
type Stage string

const (
	StageInit       Stage = "INIT"
	StageResolve    Stage = "RESOLVE"
	StageAssemble   Stage = "ASSEMBLE"
	StageDedupMerge Stage = "DEDUP_MERGE"
	StageEnrich     Stage = "ENRICH"
	StageCommit     Stage = "COMMIT"
	StageCompose    Stage = "COMPOSE"
	StageSign       Stage = "SIGN"
	StageCleanup    Stage = "CLEANUP"
	StageDone       Stage = "DONE"
	StageFailed     Stage = "FAILED"
)

// Result is the terminal success of a run.
type Result struct {
	// Document is the stored, signed document Bundle.
	Document map[string]interface{}
	// Committed is the merged bundle that was submitted as a transaction.
	Committed []CommittedEntry
	// Stages lists the states visited, ending with DONE.
	Stages []Stage
}

// CommittedEntry identifies one resource staged by the transaction.
type CommittedEntry struct {
	ResourceType string
	ID           string
	Method       string
}
