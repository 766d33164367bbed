package entity_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/penguinwhisk/controller/internal/entity"
	"github.com/penguinwhisk/controller/internal/werr"
)

var _ = Describe("Fully qualified names", func() {
	It("round-trips a namespace-level action", func() {
		fqn := entity.BuildFQN("guest", nil, "hello")
		Expect(fqn).To(Equal("/guest/hello"))

		ns, pkg, name, err := entity.ParseFQN(fqn)
		Expect(err).NotTo(HaveOccurred())
		Expect(ns).To(Equal("guest"))
		Expect(pkg).To(BeNil())
		Expect(name).To(Equal("hello"))
	})

	It("round-trips a package-qualified action", func() {
		pkg := "utils"
		fqn := entity.BuildFQN("guest", &pkg, "split")
		Expect(fqn).To(Equal("/guest/utils/split"))

		ns, parsedPkg, name, err := entity.ParseFQN(fqn)
		Expect(err).NotTo(HaveOccurred())
		Expect(ns).To(Equal("guest"))
		Expect(parsedPkg).NotTo(BeNil())
		Expect(*parsedPkg).To(Equal("utils"))
		Expect(name).To(Equal("split"))
	})

	It("rejects names with the wrong segment count", func() {
		_, _, _, err := entity.ParseFQN("/a/b/c/d")
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())

		_, _, _, err = entity.ParseFQN("/onlyone")
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})
})

var _ = Describe("Entity paths", func() {
	It("splits a bare action name", func() {
		pkg, name, err := entity.SplitPath("hello")
		Expect(err).NotTo(HaveOccurred())
		Expect(pkg).To(BeNil())
		Expect(name).To(Equal("hello"))
	})

	It("splits a package-qualified path", func() {
		pkg, name, err := entity.SplitPath("utils/split")
		Expect(err).NotTo(HaveOccurred())
		Expect(*pkg).To(Equal("utils"))
		Expect(name).To(Equal("split"))
	})

	It("rejects deeper paths", func() {
		_, _, err := entity.SplitPath("a/b/c")
		Expect(werr.IsKind(err, werr.KindValidation)).To(BeTrue())
	})
})

var _ = Describe("Action FQN", func() {
	It("includes the package when resolved through one", func() {
		action := &entity.Action{Name: "split", Namespace: "guest", PackageName: "utils"}
		Expect(action.FQN()).To(Equal("/guest/utils/split"))
	})

	It("omits the package for namespace-level actions", func() {
		action := &entity.Action{Name: "hello", Namespace: "guest"}
		Expect(action.FQN()).To(Equal("/guest/hello"))
	})
})
