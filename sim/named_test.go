package sim

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Name", func() {
	It("should accept hierarchical names with indices", func() {
		Expect(func() { NameMustBeValid("Bus.Master[0]") }).NotTo(Panic())
		Expect(func() { NameMustBeValid("Soc.Mem[1][2]") }).NotTo(Panic())
	})

	It("should panic if the name is empty", func() {
		Expect(func() { NameMustBeValid("") }).To(Panic())
	})

	It("should panic if name include underscore", func() {
		Expect(func() { NameMustBeValid("Bus_0") }).To(Panic())
	})

	It("should panic if name include dash", func() {
		Expect(func() { NameMustBeValid("Bus-0") }).To(Panic())
	})

	It("should panic if name is not capitalized CamelCase", func() {
		Expect(func() { NameMustBeValid("bus0") }).To(Panic())
	})

	It("should have paired square brackets", func() {
		Expect(func() { NameMustBeValid("Bus[0") }).To(Panic())
		Expect(func() { NameMustBeValid("Bus0]") }).To(Panic())
	})

	It("should be panic if element name is empty", func() {
		Expect(func() { NameMustBeValid("Bus..Master") }).To(Panic())
	})

	It("should build name", func() {
		Expect(BuildName("", "Bus")).To(Equal("Bus"))
		Expect(BuildName("Bus", "Arbiter")).To(Equal("Bus.Arbiter"))
	})

	It("should build name with index", func() {
		Expect(BuildNameWithIndex("", "Master", 0)).To(Equal("Master[0]"))
		Expect(BuildNameWithIndex("Bus", "Queue", 3)).To(Equal("Bus.Queue[3]"))
	})
})
