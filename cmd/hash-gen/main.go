package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"pharma-chain.backend/pkg/crypto"
)

var (
	stdout   io.Writer = os.Stdout
	readFile           = os.ReadFile
	fatalfFn           = log.Fatalf
)

type hashRequest struct {
	fields      crypto.MetadataFields
	certificate string
}

func parseArgs(args []string) (hashRequest, error) {
	fs := flag.NewFlagSet("hash-gen", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	batchID := fs.String("batch-id", "", "batch identifier (required)")
	drugName := fs.String("drug-name", "", "drug name (required)")
	mfg := fs.String("mfg", "", "manufacturing date, YYYY-MM-DD or RFC3339 (required)")
	exp := fs.String("exp", "", "expiry date, YYYY-MM-DD or RFC3339 (required)")
	quantity := fs.Int64("quantity", 1, "unit count")
	manufacturer := fs.String("manufacturer", "", "manufacturer address (required)")
	certificate := fs.String("certificate", "", "optional QA certificate file to hash")
	if err := fs.Parse(args); err != nil {
		return hashRequest{}, err
	}

	if *batchID == "" || *drugName == "" || *mfg == "" || *exp == "" || *manufacturer == "" {
		return hashRequest{}, fmt.Errorf("batch-id, drug-name, mfg, exp and manufacturer are required")
	}
	if *quantity < 0 {
		return hashRequest{}, fmt.Errorf("quantity must not be negative")
	}

	return hashRequest{
		fields: crypto.MetadataFields{
			BatchID:           *batchID,
			DrugName:          *drugName,
			ManufacturingDate: *mfg,
			ExpiryDate:        *exp,
			Quantity:          *quantity,
			Manufacturer:      *manufacturer,
		},
		certificate: *certificate,
	}, nil
}

func run(args []string, out io.Writer) error {
	req, err := parseArgs(args)
	if err != nil {
		return err
	}

	canonical, err := crypto.CanonicalMetadata(req.fields)
	if err != nil {
		return err
	}
	hash, err := crypto.ComputeMetadataHash(req.fields)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Canonical: %s\n", canonical)
	fmt.Fprintf(out, "METADATA_HASH=%s\n", hash)

	if req.certificate != "" {
		content, err := readFile(req.certificate)
		if err != nil {
			return fmt.Errorf("failed to read certificate: %w", err)
		}
		fmt.Fprintf(out, "QA_CERTIFICATE_HASH=%s\n", crypto.FileHash(content))
	}
	return nil
}

func main() {
	if err := run(os.Args[1:], stdout); err != nil {
		fatalfFn("hash-gen: %v", err)
	}
}
