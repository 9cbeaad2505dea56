package certstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safeerase_enterprise/internal/cert"
	"safeerase_enterprise/internal/nist"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "certificates.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSigned(devicePath string, issued time.Time) *cert.SignedCertificate {
	return &cert.SignedCertificate{
		Certificate: cert.Certificate{
			Manufacturer:           "Sandbox",
			Model:                  "Sandbox VDisk",
			SerialNumber:           "SBX-vdisk0",
			MediaType:              string(nist.MediaFlash),
			Transport:              string(nist.TransportFile),
			SanitizationMethod:     nist.MethodPurge,
			SanitizationTechnique:  nist.TechniqueSSDSecureErase,
			ToolIdentifier:         cert.ToolIdentifier,
			VerificationMethodUsed: cert.VerificationMethod,
			OperatorName:           "И. Петров",
			OperatorTitle:          "Инженер ИБ",
			Date:                   issued.UTC().Format(time.RFC3339),
			DevicePath:             devicePath,
			DeviceSizeBytes:        64 * 1024 * 1024,
			VerificationStatus:     "passed",
			VerificationDetails:    []string{"ok"},
			CompletionTimeUTC:      issued.UTC().Format(time.RFC3339),
			CertificateID:          uuid.NewString(),
			Compliance:             cert.ComplianceStatement,
		},
		Signature: cert.SignatureBlock{
			Alg:             cert.SignatureAlg,
			SigB64:          "c2lnbmF0dXJl",
			PubkeySHA256x16: "0123456789abcdef",
		},
	}
}

func TestStore_SaveGetRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sc := sampleSigned("/tmp/vdisk0.img", time.Now())
	require.NoError(t, s.Save(ctx, sc))

	got, err := s.Get(ctx, sc.CertificateID)
	require.NoError(t, err)
	assert.Equal(t, sc, got)
}

func TestStore_GetUnknownID(t *testing.T) {
	s := testStore(t)

	_, err := s.Get(context.Background(), "нет-такого")
	require.Error(t, err)
	var notFound *NotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sc := sampleSigned("/tmp/vdisk0.img", time.Now())
	require.NoError(t, s.Save(ctx, sc))
	assert.Error(t, s.Save(ctx, sc))
}

func TestStore_ListNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	older := sampleSigned("/tmp/vdisk0.img", base)
	newer := sampleSigned("/tmp/vdisk1.img", base.Add(time.Hour))
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	entries, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, newer.CertificateID, entries[0].CertificateID)
	assert.Equal(t, older.CertificateID, entries[1].CertificateID)
	assert.Equal(t, base.Add(time.Hour), entries[0].IssuedAt)
}

func TestStore_ListByDevice(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.Save(ctx, sampleSigned("/tmp/vdisk0.img", base)))
	require.NoError(t, s.Save(ctx, sampleSigned("/tmp/vdisk0.img", base.Add(time.Minute))))
	require.NoError(t, s.Save(ctx, sampleSigned("/tmp/vdisk1.img", base)))

	entries, err := s.ListByDevice(ctx, "/tmp/vdisk0.img")
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "/tmp/vdisk0.img", e.DevicePath)
	}
}
