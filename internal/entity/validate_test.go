package entity_test

import (
	"bytes"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

var _ = Describe("Name validation", func() {
	It("accepts the full allowed character set", func() {
		Expect(entity.ValidateName("my-action_v2@example.com", "action")).To(Succeed())
	})

	It("accepts a name at exactly the length cap", func() {
		Expect(entity.ValidateName(strings.Repeat("a", 256), "action")).To(Succeed())
	})

	It("rejects a name one character over the cap", func() {
		err := entity.ValidateName(strings.Repeat("a", 257), "action")
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})

	It("rejects empty names and forbidden characters", func() {
		Expect(entity.ValidateName("", "action")).To(HaveOccurred())
		Expect(entity.ValidateName("has space", "action")).To(HaveOccurred())
		Expect(entity.ValidateName("slash/name", "action")).To(HaveOccurred())
	})
})

var _ = Describe("Code validation", func() {
	It("accepts code at exactly 48 MiB", func() {
		Expect(entity.ValidateCode(bytes.Repeat([]byte("x"), entity.MaxCodeSize))).To(Succeed())
	})

	It("rejects code one byte over 48 MiB", func() {
		err := entity.ValidateCode(bytes.Repeat([]byte("x"), entity.MaxCodeSize+1))
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})

	It("rejects empty code", func() {
		Expect(entity.ValidateCode(nil)).To(HaveOccurred())
	})
})

var _ = Describe("Exec validation", func() {
	It("accepts a catalogued runtime", func() {
		Expect(entity.ValidateExec(entity.Exec{Kind: "nodejs:20"})).To(Succeed())
	})

	It("rejects an unknown runtime", func() {
		err := entity.ValidateExec(entity.Exec{Kind: "cobol:74"})
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})

	It("rejects a sequence without components", func() {
		err := entity.ValidateExec(entity.Exec{Kind: entity.ExecKindSequence})
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})

	It("rejects a sequence with a malformed component path", func() {
		err := entity.ValidateExec(entity.Exec{
			Kind:       entity.ExecKindSequence,
			Components: []string{"/guest/a/b/c/d"},
		})
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})

	It("accepts a sequence of fully qualified components", func() {
		Expect(entity.ValidateExec(entity.Exec{
			Kind:       entity.ExecKindSequence,
			Components: []string{"/guest/first", "/guest/utils/second"},
		})).To(Succeed())
	})
})

var _ = Describe("Limits validation", func() {
	It("accepts the boundary values", func() {
		Expect(entity.ValidateLimits(entity.Limits{Timeout: 100, Memory: 128, Logs: 0, Concurrency: 1})).To(Succeed())
		Expect(entity.ValidateLimits(entity.Limits{Timeout: 600000, Memory: 2048, Logs: 10, Concurrency: 1})).To(Succeed())
	})

	DescribeTable("rejects out-of-range values",
		func(l entity.Limits) {
			Expect(werr.IsKind(entity.ValidateLimits(l), werr.KindValidation)).To(BeTrue())
		},
		Entry("timeout too low", entity.Limits{Timeout: 99, Memory: 256, Logs: 10}),
		Entry("timeout too high", entity.Limits{Timeout: 600001, Memory: 256, Logs: 10}),
		Entry("memory too low", entity.Limits{Timeout: 60000, Memory: 127, Logs: 10}),
		Entry("memory too high", entity.Limits{Timeout: 60000, Memory: 2049, Logs: 10}),
		Entry("logs too high", entity.Limits{Timeout: 60000, Memory: 256, Logs: 11}),
	)
})

var _ = Describe("Parameter validation", func() {
	It("accepts an empty mapping", func() {
		Expect(entity.ValidateParams(nil, "parameters")).To(Succeed())
	})

	It("rejects a mapping over 1 MiB serialized", func() {
		big := entity.Params{"payload": strings.Repeat("x", entity.MaxParameterSize)}
		err := entity.ValidateParams(big, "parameters")
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})
})
