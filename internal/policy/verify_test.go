package policy

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/kms"
	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
)

type fakeKMS struct {
	der   []byte
	usage kmstypes.KeyUsageType
	err   error
	calls int
}

func (f *fakeKMS) GetPublicKey(context.Context, *kms.GetPublicKeyInput, ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &kms.GetPublicKeyOutput{PublicKey: f.der, KeyUsage: f.usage}, nil
}

func derOf(t *testing.T, pub crypto.PublicKey) []byte {
	t.Helper()
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}
	return der
}

func TestKMSVerifier_ECDSA(t *testing.T) {
	msg := []byte("max_requests: 5\n")
	for _, curve := range []elliptic.Curve{elliptic.P256(), elliptic.P384()} {
		t.Run(curve.Params().Name, func(t *testing.T) {
			key, err := ecdsa.GenerateKey(curve, rand.Reader)
			if err != nil {
				t.Fatal(err)
			}
			var digest []byte
			if curve == elliptic.P384() {
				d := sha512.Sum384(msg)
				digest = d[:]
			} else {
				d := sha256.Sum256(msg)
				digest = d[:]
			}
			sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
			if err != nil {
				t.Fatal(err)
			}

			fk := &fakeKMS{der: derOf(t, &key.PublicKey), usage: kmstypes.KeyUsageTypeSignVerify}
			v := &KMSVerifier{client: fk, keyARN: "arn"}
			if err := v.VerifySignature(t.Context(), msg, sig); err != nil {
				t.Fatalf("verify: %v", err)
			}
			if err := v.VerifySignature(t.Context(), []byte("other"), sig); err == nil {
				t.Fatal("wrong message should fail")
			}
			if fk.calls != 1 {
				t.Fatalf("public key fetched %d times, want 1", fk.calls)
			}
		})
	}
}

func TestKMSVerifier_RSAPSS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	msg := []byte("window: 30s\n")
	digest := sha256.Sum256(msg)

	pss, err := rsa.SignPSS(rand.Reader, key, crypto.SHA256, digest[:], nil)
	if err != nil {
		t.Fatal(err)
	}
	v := &KMSVerifier{pubKey: &key.PublicKey}
	if err := v.VerifySignature(t.Context(), msg, pss); err != nil {
		t.Fatalf("PSS verify: %v", err)
	}

	pkcs, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		t.Fatal(err)
	}
	if err := v.VerifySignature(t.Context(), msg, pkcs); err == nil {
		t.Fatal("PKCS1v15 signatures must be rejected")
	}
}

func TestKMSVerifier_KeyErrors(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)

	tests := []struct {
		name string
		v    *KMSVerifier
	}{
		{"no client", &KMSVerifier{}},
		{"kms error", &KMSVerifier{client: &fakeKMS{err: errors.New("AccessDenied")}}},
		{"wrong usage", &KMSVerifier{client: &fakeKMS{der: derOf(t, &key.PublicKey), usage: kmstypes.KeyUsageTypeEncryptDecrypt}}},
		{"bad der", &KMSVerifier{client: &fakeKMS{der: []byte("junk"), usage: kmstypes.KeyUsageTypeSignVerify}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.v.VerifySignature(t.Context(), []byte("m"), []byte("s")); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestKMSVerifier_UnsupportedCurve(t *testing.T) {
	key, _ := ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	v := &KMSVerifier{pubKey: &key.PublicKey}
	if err := v.VerifySignature(t.Context(), []byte("m"), []byte("s")); err == nil {
		t.Fatal("P-521 should be unsupported")
	}
}
