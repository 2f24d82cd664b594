package certificate

import (
	"context"
	"fmt"

	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/fhir"
	"github.com/janol77/ddcc-transactions-mediator-lacpass-ips/internal/platform/structuremap"
)

// Structure map names, resolved against the DDCC or DVC canonical base.
const (
	MapQRToCoreDataSet     = "DDCCQRToCoreDataSetVS"
	MapCoreDataSetToBundle = "CoreDataSetVSToAddBundle"
	MapIPSToCoreDataSet    = "IPSToCoreDataSetVS"
	MapQRToDVC             = "DVCQRToDVCModel"
)

// Transformer implements Normalizer and Assembler on top of a structure
// map service.
type Transformer struct {
	client   *structuremap.Client
	ddccBase string
	dvcBase  string
}

func NewTransformer(client *structuremap.Client, ddccBase, dvcBase string) *Transformer {
	return &Transformer{client: client, ddccBase: ddccBase, dvcBase: dvcBase}
}

func (t *Transformer) Normalize(ctx context.Context, kind Kind, qr map[string]interface{}) (CoreDataSet, error) {
	source := structuremap.MapURL(t.ddccBase, MapQRToCoreDataSet)
	if kind == KindDVC {
		source = structuremap.MapURL(t.dvcBase, MapQRToDVC)
	}
	out, err := t.client.Transform(ctx, source, qr)
	if err != nil {
		return nil, normalizeError(err)
	}
	return CoreDataSet(out), nil
}

// NormalizeIPS converts an IPS document into one core data set per
// converted entry.
func (t *Transformer) NormalizeIPS(ctx context.Context, ips map[string]interface{}) ([]CoreDataSet, error) {
	out, err := t.client.Transform(ctx, structuremap.MapURL(t.ddccBase, MapIPSToCoreDataSet), ips)
	if err != nil {
		return nil, normalizeError(err)
	}
	bundle, err := fhir.BundleFromMap(out)
	if err != nil {
		return nil, lookupError(ReasonNormalize, "Error converting to core data set: "+err.Error())
	}
	var sets []CoreDataSet
	for _, e := range bundle.Entry {
		if e.Resource != nil {
			sets = append(sets, CoreDataSet(e.Resource))
		}
	}
	if len(sets) == 0 {
		return nil, lookupError(ReasonNormalize, "Error converting to core data set: no entries")
	}
	return sets, nil
}

func (t *Transformer) Assemble(ctx context.Context, cds CoreDataSet) (*fhir.Bundle, error) {
	out, err := t.client.Transform(ctx, structuremap.MapURL(t.ddccBase, MapCoreDataSetToBundle), map[string]interface{}(cds))
	if err != nil {
		return nil, transportError(ReasonAssemble, err)
	}
	bundle, err := fhir.BundleFromMap(out)
	if err != nil {
		return nil, lookupError(ReasonAssemble, fmt.Sprintf("assembler returned %q: %v", fhir.ResourceType(out), err))
	}
	return bundle, nil
}

func normalizeError(err error) *Error {
	e := transportError(ReasonNormalize, err)
	e.Detail = "Error converting to core data set: " + err.Error()
	return e
}
