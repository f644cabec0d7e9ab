package fake_test

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/gitlab-skills/live-harness/internal/fake"
	"github.com/gitlab-skills/live-harness/internal/models"
	"github.com/gitlab-skills/live-harness/pkg/glab"
)

var _ = Describe("Issuer", func() {
	var issuer *fake.Issuer

	BeforeEach(func() {
		issuer = fake.NewIssuer(signingKey)
	})

	// Given a token issued for the developer role
	// When we parse it back
	// Then the username and role survive the round trip
	It("issues tokens that parse back to their claims", func() {
		token, err := issuer.Token("test-developer", glab.RoleDeveloper)
		Expect(err).ToNot(HaveOccurred())

		claims, err := issuer.Parse(token)
		Expect(err).ToNot(HaveOccurred())
		Expect(claims.Username).To(Equal("test-developer"))
		Expect(claims.Role).To(Equal(glab.RoleDeveloper))
		Expect(claims.AccessLevel()).To(Equal(models.AccessDeveloper))
		Expect(claims.IsAdmin()).To(BeFalse())
	})

	It("rejects tokens signed with another key", func() {
		token, err := fake.NewIssuer("other-key").Token("root", glab.RoleRoot)
		Expect(err).ToNot(HaveOccurred())

		_, err = issuer.Parse(token)
		Expect(err).To(HaveOccurred())
	})

	It("rejects garbage", func() {
		_, err := issuer.Parse("glpat-not-a-jwt")
		Expect(err).To(HaveOccurred())
	})

	// Given a correctly signed token with an unknown role
	// When we parse it
	// Then the role is rejected
	It("rejects unknown roles", func() {
		claims := fake.Claims{
			Username: "intruder",
			Role:     glab.Role("owner"),
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "live-harness-fake",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
		Expect(err).ToNot(HaveOccurred())

		_, err = issuer.Parse(token)
		Expect(err).To(HaveOccurred())
	})

	It("rejects expired tokens", func() {
		claims := fake.Claims{
			Username: "root",
			Role:     glab.RoleRoot,
			RegisteredClaims: jwt.RegisteredClaims{
				Issuer:    "live-harness-fake",
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(signingKey))
		Expect(err).ToNot(HaveOccurred())

		_, err = issuer.Parse(token)
		Expect(err).To(HaveOccurred())
	})

	// Given an issuer
	// When we ask for credentials
	// Then every role gets a distinct token and the default token is root's
	It("issues credentials for every role", func() {
		creds, err := issuer.Credentials("http://fake.gitlab", "fake.gitlab")
		Expect(err).ToNot(HaveOccurred())

		Expect(creds.URL).To(Equal("http://fake.gitlab"))
		Expect(creds.Host).To(Equal("fake.gitlab"))
		Expect(creds.Token).To(Equal(creds.RootToken))

		tokens := map[string]bool{}
		for _, role := range glab.Roles {
			token, err := creds.TokenFor(role)
			Expect(err).ToNot(HaveOccurred())
			tokens[token] = true

			claims, err := issuer.Parse(token)
			Expect(err).ToNot(HaveOccurred())
			Expect(claims.Role).To(Equal(role))
		}
		Expect(tokens).To(HaveLen(len(glab.Roles)))
	})
})
