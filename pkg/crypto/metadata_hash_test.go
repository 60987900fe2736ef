package crypto

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	vectorManufacturer = "0xABCDEF0123456789abcdef0123456789ABCDEF01"
	vectorHash         = "85448d8dbd3321d7bf9c4c95fe747b559198c1739cdb59657644b123b7ae5d73"
)

func vectorFields() MetadataFields {
	return MetadataFields{
		BatchID:           "BATCH-001",
		DrugName:          "Paracetamol 500mg",
		ManufacturingDate: "2026-01-15",
		ExpiryDate:        "2027-06-30",
		Quantity:          1000,
		Manufacturer:      vectorManufacturer,
	}
}

func TestCanonicalMetadata_Layout(t *testing.T) {
	out, err := CanonicalMetadata(vectorFields())
	require.NoError(t, err)
	assert.Equal(t,
		`{"batchID":"BATCH-001","drugName":"Paracetamol 500mg","expiryDate":"2027-06-30","manufacturer":"0xabcdef0123456789abcdef0123456789abcdef01","manufacturingDate":"2026-01-15","quantity":1000}`,
		string(out))
}

func TestComputeMetadataHash_KnownVector(t *testing.T) {
	hash, err := ComputeMetadataHash(vectorFields())
	require.NoError(t, err)
	assert.Equal(t, vectorHash, hash)
}

func TestComputeMetadataHash_DateRepresentationInvariant(t *testing.T) {
	mfg := time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC)
	exp := time.Date(2027, 6, 30, 18, 45, 0, 0, time.UTC)
	variants := []MetadataFields{
		vectorFields(),
		{BatchID: "BATCH-001", DrugName: "Paracetamol 500mg", ManufacturingDate: mfg, ExpiryDate: exp, Quantity: 1000, Manufacturer: vectorManufacturer},
		{BatchID: "BATCH-001", DrugName: "Paracetamol 500mg", ManufacturingDate: &mfg, ExpiryDate: "2027-06-30T18:45:00Z", Quantity: 1000, Manufacturer: vectorManufacturer},
		{BatchID: "BATCH-001", DrugName: "Paracetamol 500mg", ManufacturingDate: "2026-01-15T00:00:00.000Z", ExpiryDate: "2027-06-30T08:00:00", Quantity: 1000, Manufacturer: vectorManufacturer},
	}
	for i, v := range variants {
		hash, err := ComputeMetadataHash(v)
		require.NoError(t, err, "variant %d", i)
		assert.Equal(t, vectorHash, hash, "variant %d", i)
	}
}

func TestComputeMetadataHash_NonUTCZoneConvertsBeforeTruncation(t *testing.T) {
	jakarta := time.FixedZone("WIB", 7*3600)
	f := vectorFields()
	// 2026-01-16 05:00 +07:00 is 2026-01-15 22:00 UTC
	f.ManufacturingDate = time.Date(2026, 1, 16, 5, 0, 0, 0, jakarta)
	hash, err := ComputeMetadataHash(f)
	require.NoError(t, err)
	assert.Equal(t, vectorHash, hash)

	f.ManufacturingDate = "2026-01-16T05:00:00+07:00"
	hash, err = ComputeMetadataHash(f)
	require.NoError(t, err)
	assert.Equal(t, vectorHash, hash)
}

func TestComputeMetadataHash_Defaults(t *testing.T) {
	hash, err := ComputeMetadataHash(MetadataFields{})
	require.NoError(t, err)
	assert.Equal(t, "a1f901ce06951c8b82b68ca53f947ecd0f1ce39beb609b259dd4b5eef706b8ee", hash)
}

func TestComputeMetadataHash_Deterministic(t *testing.T) {
	first, err := ComputeMetadataHash(vectorFields())
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := ComputeMetadataHash(vectorFields())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	changed := vectorFields()
	changed.Quantity = 999
	other, err := ComputeMetadataHash(changed)
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestCanonicalMetadata_NoHTMLEscaping(t *testing.T) {
	f := vectorFields()
	f.DrugName = "A&B <forte>"
	out, err := CanonicalMetadata(f)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"drugName":"A&B <forte>"`)

	f.DrugName = "line\u2028sep"
	out, err = CanonicalMetadata(f)
	require.NoError(t, err)
	assert.Contains(t, string(out), "line\u2028sep")
	assert.NotContains(t, string(out), `\u2028`)
}

func TestComputeMetadataHash_InvalidDate(t *testing.T) {
	f := vectorFields()
	f.ExpiryDate = "30/06/2027"
	_, err := ComputeMetadataHash(f)
	require.ErrorIs(t, err, ErrInvalidDate)
	assert.False(t, VerifyMetadataHash(f, vectorHash))

	f.ExpiryDate = 42
	_, err = ComputeMetadataHash(f)
	require.ErrorIs(t, err, ErrInvalidDate)
}

func TestVerifyMetadataHash(t *testing.T) {
	assert.True(t, VerifyMetadataHash(vectorFields(), vectorHash))
	assert.True(t, VerifyMetadataHash(vectorFields(), "0x"+vectorHash))
	assert.False(t, VerifyMetadataHash(vectorFields(), "deadbeef"))
}

func TestFileHash(t *testing.T) {
	content := []byte("certificate-bytes")
	assert.Equal(t, "efa1655555276292e3c43b3d340c9d79be9db2738ac37ef9dcd6fc5f3554f251", FileHash(content))
	assert.True(t, VerifyFileHash(content, "EFA1655555276292E3C43B3D340C9D79BE9DB2738AC37EF9DCD6FC5F3554F251"))
	assert.False(t, VerifyFileHash([]byte("tampered"), FileHash(content)))
}

func TestTruncateDate(t *testing.T) {
	got := TruncateDate(time.Date(2026, 5, 2, 23, 59, 0, 0, time.FixedZone("X", -3600)))
	assert.Equal(t, time.Date(2026, 5, 3, 0, 0, 0, 0, time.UTC), got)
}
